package narrative

import "narrative-playout/internal/behaviour"

// ElementID uniquely identifies a narrative element within a story.
type ElementID string

// RepresentationType is the presentation kind of a representation.
type RepresentationType string

const (
	RepresentationVideo RepresentationType = "video"
	RepresentationAudio RepresentationType = "audio"
	RepresentationImage RepresentationType = "image"
	RepresentationText  RepresentationType = "text"
)

// TimeBased reports whether representations of type t are driven by a media
// clock.
func (t RepresentationType) TimeBased() bool {
	return t == RepresentationVideo || t == RepresentationAudio
}

// Story is a complete narrative graph as loaded from a story file.
type Story struct {
	ID               string              `yaml:"id"`
	Name             string              `yaml:"name"`
	Beginning        ElementID           `yaml:"beginning"`
	Variables        map[string]Variable `yaml:"variables,omitempty"`
	Elements         []Element           `yaml:"narrative_elements"`
	AssetCollections []AssetCollection   `yaml:"asset_collections,omitempty"`
}

// Variable declares a story variable and its initial value.
type Variable struct {
	Type    string      `yaml:"type"`
	Default interface{} `yaml:"default_value"`
}

// Element is one node of the narrative graph.
type Element struct {
	ID             ElementID      `yaml:"id"`
	Name           string         `yaml:"name,omitempty"`
	Links          []Link         `yaml:"links,omitempty"`
	Representation Representation `yaml:"representation"`
}

// Link is an outgoing edge of an element. Condition is a Lua expression over
// story variables; an empty condition always holds.
type Link struct {
	Target      ElementID `yaml:"target_narrative_element_id"`
	Condition   string    `yaml:"condition,omitempty"`
	Description string    `yaml:"description,omitempty"`
}

// Representation is the presentable content of an element.
type Representation struct {
	ID               string               `yaml:"id"`
	Type             RepresentationType   `yaml:"representation_type"`
	Duration         *float64             `yaml:"duration,omitempty"`
	AssetCollections RepresentationAssets `yaml:"asset_collections,omitempty"`
	Behaviours       behaviour.Set        `yaml:"behaviours,omitempty"`
}

// RepresentationAssets references the asset collections a representation
// draws from.
type RepresentationAssets struct {
	ForegroundID  string             `yaml:"foreground_id,omitempty"`
	BackgroundIDs []string           `yaml:"background_ids,omitempty"`
	Behaviours    []BehaviourMapping `yaml:"behaviours,omitempty"`
}

// BehaviourMapping maps a behaviour-local asset reference to an asset
// collection.
type BehaviourMapping struct {
	MappingID         string `yaml:"behaviour_asset_collection_mapping_id"`
	AssetCollectionID string `yaml:"asset_collection_id"`
}

// AssetCollection groups the media files of one asset.
type AssetCollection struct {
	ID     string     `yaml:"id" json:"id"`
	Name   string     `yaml:"name,omitempty" json:"name,omitempty"`
	Loop   bool       `yaml:"loop,omitempty" json:"loop,omitempty"`
	Meta   AssetMeta  `yaml:"meta,omitempty" json:"meta,omitempty"`
	Assets AssetFiles `yaml:"assets" json:"assets"`
}

// AssetMeta carries trim points, in seconds of the source media.
type AssetMeta struct {
	In  float64 `yaml:"in,omitempty" json:"in,omitempty"`
	Out float64 `yaml:"out,omitempty" json:"out,omitempty"`
}

// AssetFiles lists the media references of an asset collection. References
// are resolved to playable URLs through a Fetcher.
type AssetFiles struct {
	AVSrc    string `yaml:"av_src,omitempty" json:"av_src,omitempty"`
	AudioSrc string `yaml:"audio_src,omitempty" json:"audio_src,omitempty"`
	ImageSrc string `yaml:"image_src,omitempty" json:"image_src,omitempty"`
	SubSrc   string `yaml:"sub_src,omitempty" json:"sub_src,omitempty"`
}

// NextStep is a currently valid link target.
type NextStep struct {
	Target  ElementID
	Element *Element
}

// ResolveMapping returns the asset collection id a behaviour mapping id
// refers to.
func (r Representation) ResolveMapping(mappingID string) (string, bool) {
	for _, m := range r.AssetCollections.Behaviours {
		if m.MappingID == mappingID {
			return m.AssetCollectionID, true
		}
	}
	return "", false
}
