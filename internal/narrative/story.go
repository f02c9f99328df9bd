package narrative

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownElement is returned when an element id is not part of the
	// story.
	ErrUnknownElement = errors.New("unknown narrative element")

	// ErrUnknownAssetCollection is returned when an asset collection id is
	// not part of the story.
	ErrUnknownAssetCollection = errors.New("unknown asset collection")

	// ErrInvalidStory wraps every structural problem found by Validate.
	ErrInvalidStory = errors.New("invalid story")
)

// LoadStory reads and validates a story file.
func LoadStory(path string) (*Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story: %w", err)
	}
	return ParseStory(data)
}

// ParseStory decodes and validates a YAML story document. Unknown behaviour
// kinds fail decoding.
func ParseStory(data []byte) (*Story, error) {
	s, err := DecodeStory(data)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeStory decodes a YAML story document without validating it, so
// every problem can be listed with Problems.
func DecodeStory(data []byte) (*Story, error) {
	var s Story
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode story: %w", err)
	}
	return &s, nil
}

// Element returns the element with the given id.
func (s *Story) Element(id ElementID) (*Element, bool) {
	for i := range s.Elements {
		if s.Elements[i].ID == id {
			return &s.Elements[i], true
		}
	}
	return nil, false
}

// AssetCollection returns the asset collection with the given id.
func (s *Story) AssetCollection(id string) (AssetCollection, bool) {
	for _, ac := range s.AssetCollections {
		if ac.ID == id {
			return ac, true
		}
	}
	return AssetCollection{}, false
}

// Validate returns all structural problems of s joined into one error, or nil.
func (s *Story) Validate() error {
	problems := s.Problems()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidStory, errors.Join(problems...))
}

// Problems lists every structural problem of s: duplicate ids, dangling link
// targets and asset references, invalid behaviours and Lua conditions that
// do not compile.
func (s *Story) Problems() []error {
	var out []error
	eval := NewEvaluator()

	if _, ok := s.Element(s.Beginning); !ok {
		out = append(out, fmt.Errorf("beginning %q: %w", s.Beginning, ErrUnknownElement))
	}
	for name, v := range s.Variables {
		if _, err := normalizeValue(v.Default); err != nil {
			out = append(out, fmt.Errorf("variable %q: %w", name, err))
		}
	}

	acs := make(map[string]bool)
	for _, ac := range s.AssetCollections {
		if acs[ac.ID] {
			out = append(out, fmt.Errorf("asset collection %q: duplicate id", ac.ID))
		}
		acs[ac.ID] = true
	}

	seen := make(map[ElementID]bool)
	for _, el := range s.Elements {
		if seen[el.ID] {
			out = append(out, fmt.Errorf("element %q: duplicate id", el.ID))
		}
		seen[el.ID] = true

		for _, link := range el.Links {
			if _, ok := s.Element(link.Target); !ok {
				out = append(out, fmt.Errorf("element %q link: %w: %q", el.ID, ErrUnknownElement, link.Target))
			}
			if link.Condition != "" {
				if err := eval.Compile(link.Condition); err != nil {
					out = append(out, fmt.Errorf("element %q link to %q: %w", el.ID, link.Target, err))
				}
			}
		}

		rep := el.Representation
		if err := rep.Behaviours.Validate(); err != nil {
			out = append(out, fmt.Errorf("element %q: %w", el.ID, err))
		}
		refs := append([]string{}, rep.AssetCollections.BackgroundIDs...)
		if rep.AssetCollections.ForegroundID != "" {
			refs = append(refs, rep.AssetCollections.ForegroundID)
		}
		for _, m := range rep.AssetCollections.Behaviours {
			refs = append(refs, m.AssetCollectionID)
		}
		for _, id := range refs {
			if !acs[id] {
				out = append(out, fmt.Errorf("element %q: %w: %q", el.ID, ErrUnknownAssetCollection, id))
			}
		}
		if rep.Type.TimeBased() && rep.AssetCollections.ForegroundID == "" {
			out = append(out, fmt.Errorf("element %q: %s representation has no foreground asset collection", el.ID, rep.Type))
		}
	}
	return out
}
