package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"narrative-playout/internal/clock"
	"narrative-playout/internal/linkchoice"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/platform/config"
	"narrative-playout/internal/playout"
	"narrative-playout/internal/session"

	"github.com/spf13/cobra"
)

// simulateOptions holds the flags of the simulate command.
type simulateOptions struct {
	Choices map[string]string
	Limit   time.Duration
	Step    time.Duration
}

// simStep is one navigation in the simulate report.
type simStep struct {
	From narrative.ElementID `json:"from"`
	To   narrative.ElementID `json:"to"`
	// At is seconds since the session started.
	At float64 `json:"at"`
}

// simReport is the simulate report.
type simReport struct {
	Story     string                 `json:"story"`
	Beginning narrative.ElementID    `json:"beginning"`
	Trace     []simStep              `json:"trace"`
	Ended     bool                   `json:"ended"`
	StoppedAt narrative.ElementID    `json:"stopped_at,omitempty"`
	Variables map[string]interface{} `json:"variables"`
}

func newSimulateCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate <story.yaml>",
		Short: "Play a story headless and print the path taken",
		Long: `Play a story on a simulated clock with simulated media outputs.

Without scripted choices every element follows its first valid link. Use
--choose element=target to pick a link whenever element presents a choice
offering target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().StringToStringVar(&opts.Choices, "choose", nil, "scripted choices as element=target")
	cmd.Flags().DurationVar(&opts.Limit, "limit", 30*time.Minute, "simulated time after which playback stops")
	cmd.Flags().DurationVar(&opts.Step, "step", 100*time.Millisecond, "simulated clock step")
	return cmd
}

func runSimulate(rootOpts *rootOptions, opts *simulateOptions, path string, cmd *cobra.Command) error {
	if opts.Step <= 0 {
		return fmt.Errorf("step must be positive, got %s", opts.Step)
	}
	log := rootOpts.logger(cmd)
	playback, err := config.LoadPlayback()
	if err != nil {
		return err
	}
	story, err := narrative.LoadStory(path)
	if err != nil {
		return err
	}
	ctrl, err := narrative.NewStoryController(story, log)
	if err != nil {
		return err
	}
	catalog, err := narrative.NewCatalog(story, "")
	if err != nil {
		return err
	}

	start := time.Unix(0, 0).UTC()
	clk := clock.NewManual(start)
	instances := playout.NewInstanceManager(session.Capacity(playback),
		playout.SimFactory(clk, playback.SimBufferDelay))
	surface := session.NewRecordingSurface()
	pool := playout.NewPool(clk, instances,
		playout.WithLogger(log),
		playout.WithSeekPolicy(session.SeekPolicy(playback)),
		playout.WithAffordances(surface))
	sess := session.New(session.Config{
		Clock:      clk,
		Pool:       pool,
		Surface:    surface,
		Controller: ctrl,
		Fetcher:    catalog,
		Policy:     session.RendererPolicy(playback),
		Logger:     log,
	})
	defer sess.Close()

	if err := sess.Start(); err != nil {
		return err
	}
	clk.Drain()

	// chosen holds the trace length at which the scripted choice was made,
	// so a revisited element chooses again.
	chosen := -1
	for elapsed := time.Duration(0); elapsed < opts.Limit && !sess.Ended(); elapsed += opts.Step {
		clk.Advance(opts.Step)
		trace := sess.Trace()
		if chosen == len(trace) {
			continue
		}
		r := sess.Current()
		target, ok := opts.Choices[string(r.Element().ID)]
		if !ok || !offers(r.Resolver().Snapshot(), narrative.ElementID(target)) {
			continue
		}
		if err := sess.Choose(narrative.ElementID(target)); err != nil {
			log.Warn("scripted choice rejected", slog.String("target", target), slog.String("error", err.Error()))
			continue
		}
		chosen = len(trace)
	}
	clk.Drain()

	rep := simReport{
		Story:     story.ID,
		Beginning: story.Beginning,
		Trace:     []simStep{},
		Ended:     sess.Ended(),
		Variables: ctrl.VariableState(),
	}
	for _, st := range sess.Trace() {
		rep.Trace = append(rep.Trace, simStep{From: st.From, To: st.To, At: st.At.Sub(start).Seconds()})
	}
	if !rep.Ended {
		rep.StoppedAt = ctrl.CurrentID()
	}

	w := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	writeReport(w, rep)
	return nil
}

func offers(snap linkchoice.Snapshot, target narrative.ElementID) bool {
	if !snap.Active || snap.FadePending || snap.Chosen == target {
		return false
	}
	for _, icon := range snap.Icons {
		if icon.Target == target {
			return true
		}
	}
	return false
}

func writeReport(w io.Writer, rep simReport) {
	fmt.Fprintf(w, "playing %s from %s\n", rep.Story, rep.Beginning)
	for _, st := range rep.Trace {
		fmt.Fprintf(w, "  %s -> %s\n", st.From, st.To)
	}
	if rep.Ended {
		fmt.Fprintf(w, "ended after %d steps\n", len(rep.Trace))
	} else {
		fmt.Fprintf(w, "stopped at %s after %d steps\n", rep.StoppedAt, len(rep.Trace))
	}
	var vars []string
	for _, k := range slices.Sorted(maps.Keys(rep.Variables)) {
		vars = append(vars, fmt.Sprintf("%s=%v", k, rep.Variables[k]))
	}
	fmt.Fprintf(w, "variables: %s\n", strings.Join(vars, " "))
}
