// Package color converts between gamma-corrected RGB and the CIE 1931 xy
// chromaticity space used by Hue lights.
//
// The RGB to XYZ matrix follows the Philips Hue SDK reference math and is
// kept as-is so the xy values sent to bridges match what deployed clients
// send. The reverse direction uses the exact inverse of that matrix: the
// SDK's published reverse constants are D50 and disagree with the forward
// matrix by a per-channel white point scale, which breaks round trips.
package color

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Color is anything that can be expressed as a CIE xy point with brightness.
type Color interface {
	XY() XY
}

// XY is a CIE 1931 chromaticity point plus brightness. RGBToXY reports
// brightness on the 0-254 scale; lights report it as a 0-100 percentage.
type XY struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Brightness float64 `json:"brightness"`
}

// RGB is a gamma-encoded (sRGB-like) color, nominally in [0,1] per channel.
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

var (
	_ Color = XY{}
	_ Color = RGB{}
)

// XY returns c unchanged.
func (c XY) XY() XY {
	return c
}

// XY converts c with RGBToXY.
func (c RGB) XY() XY {
	return RGBToXY(c)
}

// InGamut reports whether both coordinates lie in [0,1], the range the bridge accepts.
func (c XY) InGamut() bool {
	return c.X >= 0 && c.X <= 1 && c.Y >= 0 && c.Y <= 1
}

// RGB converts c with XYToRGB.
func (c XY) RGB() RGB {
	return XYToRGB(c)
}

// brightnessScale maps relative luminance Y onto the bridge's 0-254 scale.
const brightnessScale = 254.0

type matrix3 [3][3]float64

var rgbToXYZ = matrix3{
	{0.649926, 0.103455, 0.197109},
	{0.234327, 0.743075, 0.022598},
	{0.000000, 0.053077, 1.035763},
}

var xyzToRGB = rgbToXYZ.inverse()

func (m matrix3) mul(a, b, c float64) (float64, float64, float64) {
	return m[0][0]*a + m[0][1]*b + m[0][2]*c,
		m[1][0]*a + m[1][1]*b + m[1][2]*c,
		m[2][0]*a + m[2][1]*b + m[2][2]*c
}

// inverse uses the adjugate; the matrices here are well-conditioned constants.
func (m matrix3) inverse() matrix3 {
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])

	return matrix3{
		{
			(m[1][1]*m[2][2] - m[1][2]*m[2][1]) / det,
			(m[0][2]*m[2][1] - m[0][1]*m[2][2]) / det,
			(m[0][1]*m[1][2] - m[0][2]*m[1][1]) / det,
		},
		{
			(m[1][2]*m[2][0] - m[1][0]*m[2][2]) / det,
			(m[0][0]*m[2][2] - m[0][2]*m[2][0]) / det,
			(m[0][2]*m[1][0] - m[0][0]*m[1][2]) / det,
		},
		{
			(m[1][0]*m[2][1] - m[1][1]*m[2][0]) / det,
			(m[0][1]*m[2][0] - m[0][0]*m[2][1]) / det,
			(m[0][0]*m[1][1] - m[0][1]*m[1][0]) / det,
		},
	}
}

// RGBToXY converts a gamma-encoded RGB color to xy and brightness.
// Pure black has no chromaticity and maps to the zero XY.
func RGBToXY(c RGB) XY {
	X, Y, Z := rgbToXYZ.mul(toLinear(c.R), toLinear(c.G), toLinear(c.B))

	sum := X + Y + Z
	if sum == 0 {
		return XY{}
	}

	return XY{
		X:          X / sum,
		Y:          Y / sum,
		Brightness: Y * brightnessScale,
	}
}

// XYToRGB converts xy and brightness back to gamma-encoded RGB.
// The result is not clamped; points outside the gamut can yield channels
// outside [0,1]. A zero y coordinate has no defined luminance ratio and
// returns black.
//
// The matrix is the exact inverse of the one RGBToXY uses, and brightness is
// scaled back by 1/254. Code that must match older clients bit for bit can
// use the inverse constants published in the Hue color conversion notes with
// Y = brightness instead; those do not round trip.
func XYToRGB(c XY) RGB {
	if c.Y == 0 {
		return RGB{}
	}

	x := c.X
	y := c.Y
	z := 1.0 - x - y

	Y := c.Brightness / brightnessScale
	X := (Y / y) * x
	Z := (Y / y) * z

	r, g, b := xyzToRGB.mul(X, Y, Z)

	return RGB{
		R: toGamma(r),
		G: toGamma(g),
		B: toGamma(b),
	}
}

func toLinear(c float64) float64 {
	if c > 0.04045 {
		return math.Pow((c+0.055)/(1.0+0.055), 2.4)
	}
	return c / 12.92
}

func toGamma(c float64) float64 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return (1.0+0.055)*math.Pow(c, 1.0/2.4) - 0.055
}

// ParseHex parses "#rrggbb", "rrggbb" or the short "#rgb" form.
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("invalid hex color %q: expected 3 or 6 hex digits", s)
	}

	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}

	return RGB{
		R: float64((v>>16)&0xff) / 255,
		G: float64((v>>8)&0xff) / 255,
		B: float64(v&0xff) / 255,
	}, nil
}

// Hex formats c as "#rrggbb", clamping each channel to [0,1].
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", toByte(c.R), toByte(c.G), toByte(c.B))
}

func toByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

// Parse accepts either a hex RGB color ("#ff8800", "#f80") or a chromaticity
// pair "x,y". Range checks are left to the caller.
func Parse(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		return ParseHex(s)
	}

	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("invalid color %q: expected #rrggbb or x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return XY{X: x, Y: y}, nil
}
