package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"narrative-playout/internal/narrative"
	"narrative-playout/internal/renderer"

	"github.com/spf13/cobra"
)

// errInvalidStory is returned after an invalid story has been reported.
var errInvalidStory = errors.New("story is invalid")

// storySummary is the validate report.
type storySummary struct {
	ID               string              `json:"id"`
	Name             string              `json:"name,omitempty"`
	Beginning        narrative.ElementID `json:"beginning"`
	Elements         int                 `json:"elements"`
	AssetCollections int                 `json:"asset_collections"`
	Variables        []string            `json:"variables"`
	Behaviours       map[string]int      `json:"behaviours"`
	Unreachable      []string            `json:"unreachable,omitempty"`
	Valid            bool                `json:"valid"`
	Problems         []string            `json:"problems,omitempty"`
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <story.yaml>",
		Short: "Check a story file and summarise it",
		Long: `Check a story file for dangling links and asset references, invalid
behaviours, behaviour kinds without a renderer and Lua link conditions that
do not compile.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd.OutOrStdout())
		},
	}
}

func runValidate(opts *rootOptions, path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read story: %w", err)
	}
	story, err := narrative.DecodeStory(data)
	if err != nil {
		return err
	}

	sum := summarise(story)
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		writeSummary(w, sum)
	}
	if !sum.Valid {
		return errInvalidStory
	}
	return nil
}

func summarise(story *narrative.Story) storySummary {
	sum := storySummary{
		ID:               story.ID,
		Name:             story.Name,
		Beginning:        story.Beginning,
		Elements:         len(story.Elements),
		AssetCollections: len(story.AssetCollections),
		Behaviours:       make(map[string]int),
	}
	for _, name := range slices.Sorted(maps.Keys(story.Variables)) {
		sum.Variables = append(sum.Variables, fmt.Sprintf("%s (%s)", name, story.Variables[name].Type))
	}

	problems := story.Problems()
	for _, el := range story.Elements {
		set := el.Representation.Behaviours
		for _, d := range set.During {
			sum.Behaviours[d.Behaviour.Kind.String()]++
		}
		for _, b := range set.Completed {
			sum.Behaviours[b.Kind.String()]++
		}
		if err := renderer.CheckBehaviours(set); err != nil {
			problems = append(problems, fmt.Errorf("element %q: %w", el.ID, err))
		}
	}
	for _, p := range problems {
		sum.Problems = append(sum.Problems, p.Error())
	}
	sum.Valid = len(problems) == 0
	sum.Unreachable = unreachable(story)
	return sum
}

// unreachable lists the elements no chain of links leads to from the
// beginning, ignoring link conditions.
func unreachable(story *narrative.Story) []string {
	seen := map[narrative.ElementID]bool{story.Beginning: true}
	queue := []narrative.ElementID{story.Beginning}
	for len(queue) > 0 {
		el, ok := story.Element(queue[0])
		queue = queue[1:]
		if !ok {
			continue
		}
		for _, l := range el.Links {
			if !seen[l.Target] {
				seen[l.Target] = true
				queue = append(queue, l.Target)
			}
		}
	}
	var out []string
	for _, el := range story.Elements {
		if !seen[el.ID] {
			out = append(out, string(el.ID))
		}
	}
	return out
}

func writeSummary(w io.Writer, sum storySummary) {
	if sum.Name != "" {
		fmt.Fprintf(w, "story %s %q\n", sum.ID, sum.Name)
	} else {
		fmt.Fprintf(w, "story %s\n", sum.ID)
	}
	fmt.Fprintf(w, "beginning: %s\n", sum.Beginning)
	fmt.Fprintf(w, "elements: %d\n", sum.Elements)
	fmt.Fprintf(w, "asset collections: %d\n", sum.AssetCollections)
	if len(sum.Variables) > 0 {
		fmt.Fprintf(w, "variables: %s\n", strings.Join(sum.Variables, ", "))
	}
	if len(sum.Behaviours) > 0 {
		var parts []string
		for _, k := range slices.Sorted(maps.Keys(sum.Behaviours)) {
			parts = append(parts, fmt.Sprintf("%s=%d", k, sum.Behaviours[k]))
		}
		fmt.Fprintf(w, "behaviours: %s\n", strings.Join(parts, " "))
	}
	for _, id := range sum.Unreachable {
		fmt.Fprintf(w, "warning: element %s is unreachable\n", id)
	}
	if sum.Valid {
		fmt.Fprintln(w, "✓ story valid")
		return
	}
	fmt.Fprintf(w, "✗ story invalid (%d problems)\n", len(sum.Problems))
	for _, p := range sum.Problems {
		fmt.Fprintf(w, "  - %s\n", p)
	}
}
