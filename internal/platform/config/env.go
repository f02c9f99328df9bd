package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Playback holds the timing and capacity values of the playback engine.
type Playback struct {
	Tick            time.Duration `env:"PLAYBACK_TICK" envDefault:"10ms"`
	StartRetry      time.Duration `env:"PLAYBACK_START_RETRY" envDefault:"100ms"`
	InspectInterval time.Duration `env:"PLAYBACK_INSPECT_INTERVAL" envDefault:"50ms"`
	StallWindow     time.Duration `env:"PLAYBACK_STALL_WINDOW" envDefault:"2s"`
	StallTimeout    time.Duration `env:"PLAYBACK_STALL_TIMEOUT" envDefault:"1s"`
	FadeStep        time.Duration `env:"PLAYBACK_FADE_STEP" envDefault:"50ms"`
	ChoiceFadeDelay time.Duration `env:"CHOICE_FADE_DELAY" envDefault:"1500ms"`
	// SeekStep is the seek button distance in seconds.
	SeekStep        float64 `env:"SEEK_STEP" envDefault:"10"`
	ControlHideLead float64 `env:"CONTROL_HIDE_LEAD" envDefault:"0.4"`

	SeekRetryInterval time.Duration `env:"SEEK_RETRY_INTERVAL" envDefault:"100ms"`
	SeekMaxAttempts   int           `env:"SEEK_MAX_ATTEMPTS" envDefault:"5"`
	SeekTolerance     float64       `env:"SEEK_TOLERANCE" envDefault:"0.25"`

	ForegroundOutputs int `env:"FOREGROUND_OUTPUTS" envDefault:"2"`
	BackgroundOutputs int `env:"BACKGROUND_OUTPUTS" envDefault:"2"`
	// SimBufferDelay is how long a simulated output takes to buffer.
	SimBufferDelay time.Duration `env:"SIM_BUFFER_DELAY" envDefault:"250ms"`
}

// LoadPlayback parses Playback from the environment.
func LoadPlayback() (Playback, error) {
	var p Playback
	if err := ParseEnv(&p); err != nil {
		return Playback{}, err
	}
	return p, nil
}
