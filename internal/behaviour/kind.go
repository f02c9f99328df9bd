// Package behaviour models the effects a representation can run while it
// plays ("during" behaviours) or once its main content has finished
// ("completed" behaviours).
//
// Behaviour types form a closed set. Story files name them either by their
// full URN or by the short name that follows the URN prefix; anything else is
// rejected while decoding, so renderers never meet an unknown kind at run
// time.
package behaviour

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownKind is returned when a behaviour names a type outside the
// supported set.
var ErrUnknownKind = errors.New("unknown behaviour kind")

// URNPrefix is the namespace shared by every behaviour type URN.
const URNPrefix = "urn:x-object-based-media:representation-behaviour:"

const urnVersion = "/v1.0"

// Kind identifies a behaviour type.
type Kind int

const (
	KindInvalid Kind = iota
	KindShowLinkChoices
	KindPause
	KindManipulateVariable
	KindColourOverlay
	KindShowImage
	KindTextOverlay
	KindFadeIn
	KindFadeOut
	KindFadeAudioIn
	KindFadeAudioOut
)

var kindNames = map[Kind]string{
	KindShowLinkChoices:    "showlinkchoices",
	KindPause:              "pause",
	KindManipulateVariable: "manipulatevariable",
	KindColourOverlay:      "colouroverlay",
	KindShowImage:          "showimage",
	KindTextOverlay:        "textoverlay",
	KindFadeIn:             "fadein",
	KindFadeOut:            "fadeout",
	KindFadeAudioIn:        "fadeaudioin",
	KindFadeAudioOut:       "fadeaudioout",
}

// Kinds returns every supported kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindShowLinkChoices; k <= KindFadeAudioOut; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind accepts a full URN ("urn:...:pause/v1.0") or a short name
// ("pause").
func ParseKind(s string) (Kind, error) {
	name := strings.TrimSpace(s)
	if strings.HasPrefix(name, URNPrefix) {
		name = strings.TrimSuffix(strings.TrimPrefix(name, URNPrefix), urnVersion)
	}
	name = strings.ToLower(name)
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// String returns the short name of k.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "invalid"
}

// URN returns the full type URN of k.
func (k Kind) URN() string {
	return URNPrefix + k.String() + urnVersion
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*k = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (k Kind) MarshalYAML() (interface{}, error) {
	return k.URN(), nil
}
