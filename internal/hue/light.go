package hue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huey/internal/color"
	v2 "github.com/dokzlo13/huey/internal/hue/v2"
)

// Light is a snapshot of one light as last reported by the bridge.
// It is never updated in place; list the lights again to observe changes.
type Light struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	IsOn          bool     `json:"is_on"`
	Brightness    float64  `json:"brightness"`
	MinBrightness float64  `json:"min_brightness"`
	Color         color.XY `json:"color"`
}

// TogglePower builds a transaction that inverts the snapshot's power state.
func (l Light) TogglePower() Transaction {
	return Power(l.ID, !l.IsOn)
}

// ChangeColor builds a color/brightness transaction bounded by this light's
// own minimum dim level.
func (l Light) ChangeColor(c color.Color, brightness *float64) Transaction {
	minBrightness := l.MinBrightness
	return ColorAndBrightness(l.ID, c, brightness, &minBrightness)
}

// SortLights orders lights by name, then id.
func SortLights(lights []Light) {
	sort.Slice(lights, func(i, j int) bool {
		if lights[i].Name != lights[j].Name {
			return lights[i].Name < lights[j].Name
		}
		return lights[i].ID < lights[j].ID
	})
}

// decodeLight converts a wire entry, reporting the first missing field.
func decodeLight(raw json.RawMessage) (Light, error) {
	var w v2.Light
	if err := json.Unmarshal(raw, &w); err != nil {
		return Light{}, err
	}

	switch {
	case w.ID == nil:
		return Light{}, missingField("id")
	case w.Metadata == nil || w.Metadata.Name == nil:
		return Light{}, missingField("metadata.name")
	case w.On == nil || w.On.On == nil:
		return Light{}, missingField("on.on")
	case w.Dimming == nil || w.Dimming.Brightness == nil:
		return Light{}, missingField("dimming.brightness")
	case w.Dimming.MinDimLevel == nil:
		return Light{}, missingField("dimming.min_dim_level")
	case w.Color == nil || w.Color.XY == nil || w.Color.XY.X == nil:
		return Light{}, missingField("color.xy.x")
	case w.Color.XY.Y == nil:
		return Light{}, missingField("color.xy.y")
	}

	brightness := *w.Dimming.Brightness
	return Light{
		ID:            *w.ID,
		Name:          *w.Metadata.Name,
		IsOn:          *w.On.On,
		Brightness:    brightness,
		MinBrightness: *w.Dimming.MinDimLevel,
		Color: color.XY{
			X:          *w.Color.XY.X,
			Y:          *w.Color.XY.Y,
			Brightness: brightness,
		},
	}, nil
}

func missingField(name string) error {
	return fmt.Errorf("missing field %s", name)
}

// ListLights returns every light on the bridge that reports the full set of
// power, dimming and color fields. Entries lacking any of them (plugs,
// white-only bulbs, partial records) are skipped rather than failing the call.
// The call fails only when the top-level data array is absent or malformed.
func (c *Client) ListLights(ctx context.Context, ep Endpoint) ([]Light, error) {
	const op = "list lights"

	status, body, err := c.do(ctx, op, func() (*http.Response, error) {
		return c.clip(ep).ListLights(ctx)
	})
	if err != nil {
		return nil, err
	}

	// Only the data array decides; the status is reported when it is missing.
	var list v2.ResourceList
	if err := json.Unmarshal(body, &list); err != nil {
		if !statusOK(status) {
			return nil, apiError(op, status, body)
		}
		return nil, &ParseError{Op: op, Err: err}
	}
	if list.Data == nil {
		if !statusOK(status) {
			return nil, apiError(op, status, body)
		}
		return nil, &ParseError{Op: op, Err: errors.New("missing data array")}
	}
	warnBridgeErrors(op, status, "", list.Errors)

	lights := make([]Light, 0, len(*list.Data))
	for i, raw := range *list.Data {
		light, err := decodeLight(raw)
		if err != nil {
			log.Debug().Err(err).Int("index", i).Msg("Skipping light entry")
			continue
		}
		lights = append(lights, light)
	}

	return lights, nil
}
