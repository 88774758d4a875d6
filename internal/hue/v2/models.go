package v2

import "encoding/json"

// =============================================================================
// V2 API Types (CLIP API)
// Response fields are pointers so callers can tell "absent" from "zero".
// =============================================================================

// ResourceList is the envelope every CLIP collection is returned in.
// Data is kept raw so one malformed entry does not fail the whole list.
type ResourceList struct {
	Errors []Error            `json:"errors"`
	Data   *[]json.RawMessage `json:"data"`
}

// Error is a single entry of the CLIP "errors" array.
type Error struct {
	Description string `json:"description"`
}

// Response is the envelope returned by updates.
type Response struct {
	Errors []Error       `json:"errors"`
	Data   []ResourceRef `json:"data"`
}

// ResourceRef identifies a resource.
type ResourceRef struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

// Light represents a Hue light (V2 API / CLIP)
type Light struct {
	ID       *string `json:"id"`
	IDV1     string  `json:"id_v1,omitempty"`
	Metadata *struct {
		Name      *string `json:"name"`
		Archetype string  `json:"archetype"`
	} `json:"metadata"`
	On *struct {
		On *bool `json:"on"`
	} `json:"on"`
	Dimming *struct {
		Brightness  *float64 `json:"brightness"`
		MinDimLevel *float64 `json:"min_dim_level"`
	} `json:"dimming"`
	Color *struct {
		XY *struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		} `json:"xy"`
	} `json:"color"`
}

// LightUpdate is the partial body of PUT /resource/light/{id}.
type LightUpdate struct {
	On      *OnState `json:"on,omitempty"`
	Dimming *Dimming `json:"dimming,omitempty"`
	Color   *ColorXY `json:"color,omitempty"`
}

// OnState is the "on" feature.
type OnState struct {
	On bool `json:"on"`
}

// Dimming is the "dimming" feature.
type Dimming struct {
	Brightness float64 `json:"brightness"`
}

// ColorXY is the "color" feature.
type ColorXY struct {
	XY XY `json:"xy"`
}

// XY is a CIE 1931 chromaticity point.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
