package behaviour

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"pause", KindPause},
		{"urn:x-object-based-media:representation-behaviour:showlinkchoices/v1.0", KindShowLinkChoices},
		{"FadeAudioOut", KindFadeAudioOut},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseKind("urn:x-object-based-media:representation-behaviour:socialmodal/v1.0")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKind_URNRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.URN())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
}

func TestSet_DecodeRejectsUnknownKind(t *testing.T) {
	src := `
completed:
  - id: b1
    type: blur
`
	var s Set
	err := yaml.Unmarshal([]byte(src), &s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSet_Decode(t *testing.T) {
	src := `
during:
  - start_time: 5
    duration: 5
    behaviour:
      id: choice
      type: showlinkchoices
      one_shot: true
      link_icons:
        - target_narrative_element_id: ne-a
          text: Go left
  - start_time: 2
    behaviour:
      id: tint
      type: colouroverlay
      colour: "#00000080"
completed:
  - id: hold
    type: pause
    pause_time: 2
`
	var s Set
	require.NoError(t, yaml.Unmarshal([]byte(src), &s))
	require.NoError(t, s.Validate())

	require.Len(t, s.During, 2)
	assert.Equal(t, 10.0, s.During[0].EndTime())
	assert.True(t, math.IsInf(s.During[1].EndTime(), 1))
	assert.Equal(t, 5.0, s.ChoiceTime())
	assert.True(t, s.HasLinkChoice())

	opts := s.During[0].Behaviour.ChoiceOptions()
	assert.True(t, opts.OneShot)
	assert.True(t, opts.ShowNeToEnd)
	assert.True(t, opts.DisableControls)
	assert.False(t, opts.ForceChoice)
	assert.False(t, opts.ShowIfOneChoice)

	icon, ok := s.During[0].Behaviour.Icon("ne-a")
	require.True(t, ok)
	assert.Equal(t, "Go left", icon.Text)
}

func TestSet_ValidateDuplicateIDs(t *testing.T) {
	s := Set{
		Completed: []Behaviour{
			{ID: "x", Kind: KindPause},
			{ID: "x", Kind: KindPause},
		},
	}
	assert.ErrorIs(t, s.Validate(), ErrInvalidBehaviour)
}

func TestBehaviour_ValidateManipulate(t *testing.T) {
	b := Behaviour{ID: "m", Kind: KindManipulateVariable, TargetVariable: "score"}
	assert.ErrorIs(t, b.Validate(), ErrInvalidBehaviour)

	b.Operation = "score + 1"
	assert.NoError(t, b.Validate())
}

func TestSet_ChoiceTimeNone(t *testing.T) {
	assert.Equal(t, -1.0, Set{}.ChoiceTime())
}
