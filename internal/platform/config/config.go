package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads .env files and sets environment variables that are not already
// set. With no paths, ".env" in the working directory is used and a missing
// file is not an error. Explicit paths must exist.
func Load(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return godotenv.Load(paths...)
}

// Server holds the process-level settings of the playout server.
type Server struct {
	Port      string
	StoryPath string
	// MediaBaseURL resolves relative media paths in the story; empty keeps
	// them as written.
	MediaBaseURL string
	QueueSize    int
	LogLevel     string
	LogFormat    string
}

// LoadServer reads Server from the environment. queueSize is the default
// control queue length.
func LoadServer(queueSize int) Server {
	return Server{
		Port:         GetEnv("PORT", "8080"),
		StoryPath:    GetEnv("STORY_PATH", "stories/demo.yaml"),
		MediaBaseURL: GetEnv("MEDIA_BASE_URL", ""),
		QueueSize:    GetEnvInt("CONTROL_QUEUE_SIZE", queueSize),
		LogLevel:     GetEnv("LOG_LEVEL", "info"),
		LogFormat:    GetEnv("LOG_FORMAT", "json"),
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if the variable is
// unset, not an integer, or below 1.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
