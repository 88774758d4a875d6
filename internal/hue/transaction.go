package hue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huey/internal/color"
	v2 "github.com/dokzlo13/huey/internal/hue/v2"
)

// DefaultMinBrightness is the lowest dimming percentage accepted when the
// light's own min_dim_level is not known.
const DefaultMinBrightness = 2.0

const maxBrightness = 100.0

// Field names of a light update body.
const (
	FieldOn      = "on"
	FieldColor   = "color"
	FieldDimming = "dimming"
)

// Transaction is a pending partial state change for one light.
// It carries no idempotency token; applying it twice sends it twice.
type Transaction struct {
	LightID string
	update  v2.LightUpdate
	skipped []string
}

// Power builds a transaction that switches a light on or off.
func Power(lightID string, on bool) Transaction {
	return Transaction{
		LightID: lightID,
		update:  v2.LightUpdate{On: &v2.OnState{On: on}},
	}
}

// ColorAndBrightness builds a color and/or dimming transaction.
//
// A color outside [0,1] on either axis and a brightness outside
// [minBrightness, 100] are dropped from the body instead of being rejected;
// Skipped reports which fields were dropped. minBrightness defaults to
// DefaultMinBrightness when nil. A transaction with nothing left in it is
// still valid and changes nothing.
func ColorAndBrightness(lightID string, c color.Color, brightness, minBrightness *float64) Transaction {
	tx := Transaction{LightID: lightID}

	if c != nil {
		xy := c.XY()
		if xy.InGamut() {
			tx.update.Color = &v2.ColorXY{XY: v2.XY{X: xy.X, Y: xy.Y}}
		} else {
			tx.skip(FieldColor)
		}
	}

	if brightness != nil {
		lower := DefaultMinBrightness
		if minBrightness != nil {
			lower = *minBrightness
		}
		if *brightness >= lower && *brightness <= maxBrightness {
			tx.update.Dimming = &v2.Dimming{Brightness: *brightness}
		} else {
			tx.skip(FieldDimming)
		}
	}

	return tx
}

func (t *Transaction) skip(field string) {
	t.skipped = append(t.skipped, field)
	log.Debug().
		Str("light", t.LightID).
		Str("field", field).
		Msg("Dropping out-of-range field from transaction")
}

// Skipped lists fields that were requested but dropped as out of range.
func (t Transaction) Skipped() []string {
	return append([]string(nil), t.skipped...)
}

// Empty reports whether applying t would change nothing.
func (t Transaction) Empty() bool {
	return t.update.On == nil && t.update.Color == nil && t.update.Dimming == nil
}

// Fields lists the populated fields of the body.
func (t Transaction) Fields() []string {
	var fields []string
	if t.update.On != nil {
		fields = append(fields, FieldOn)
	}
	if t.update.Color != nil {
		fields = append(fields, FieldColor)
	}
	if t.update.Dimming != nil {
		fields = append(fields, FieldDimming)
	}
	return fields
}

// Merge returns t with the fields of next layered on top, as if both were
// applied in order. next is expected to target the same light.
func (t Transaction) Merge(next Transaction) Transaction {
	merged := Transaction{LightID: t.LightID, update: t.update}
	if next.update.On != nil {
		merged.update.On = next.update.On
	}
	if next.update.Color != nil {
		merged.update.Color = next.update.Color
	}
	if next.update.Dimming != nil {
		merged.update.Dimming = next.update.Dimming
	}
	merged.skipped = append(t.Skipped(), next.skipped...)
	return merged
}

// MarshalJSON encodes the partial body sent to the bridge.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.update)
}

// Project returns l as it would look once t is applied. It is an optimistic
// echo for display; the bridge stays the source of truth.
func (t Transaction) Project(l Light) Light {
	if t.update.On != nil {
		l.IsOn = t.update.On.On
	}
	if t.update.Color != nil {
		l.Color.X = t.update.Color.XY.X
		l.Color.Y = t.update.Color.XY.Y
	}
	if t.update.Dimming != nil {
		l.Brightness = t.update.Dimming.Brightness
		l.Color.Brightness = t.update.Dimming.Brightness
	}
	return l
}

// Apply sends t to the light's resource. Any well-formed JSON answer counts
// as success, whatever its status; descriptions in the CLIP "errors" array
// are logged at warn level. A body that is not JSON fails with *ParseError,
// or *APIError when the status was not 2xx either.
func (c *Client) Apply(ctx context.Context, ep Endpoint, t Transaction) error {
	const op = "apply"

	status, body, err := c.do(ctx, op, func() (*http.Response, error) {
		return c.clip(ep).UpdateLight(ctx, t.LightID, t.update)
	})
	if err != nil {
		return err
	}

	var resp v2.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			if !statusOK(status) {
				return apiError(op, status, body)
			}
			return &ParseError{Op: op, Err: errInvalidJSON}
		}
		// Valid JSON of another shape; nothing more is read from it.
		log.Debug().Err(err).Str("light", t.LightID).Msg("Unrecognized apply response")
	}
	warnBridgeErrors(op, status, t.LightID, resp.Errors)

	log.Debug().
		Str("light", t.LightID).
		Strs("fields", t.Fields()).
		Int("status", status).
		Int("resources", len(resp.Data)).
		Msg("Transaction applied")

	return nil
}
