// Package colors parses the CSS-like color strings used in templates and
// caption styles (#rgb, #rrggbb, #rrggbbaa, rgb(), rgba(), named colors).
package colors

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGBA is a parsed color. A is opacity in [0,1].
type RGBA struct {
	R, G, B uint8
	A       float64
}

// ExpandHex normalizes a hex color to upper-case #RRGGBB or #RRGGBBAA,
// expanding the short #RGB and #RGBA forms.
func ExpandHex(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return "", false
	}
	h := s[1:]
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, c := range h {
			b.WriteRune(c)
			b.WriteRune(c)
		}
		h = b.String()
	}
	if len(h) != 6 && len(h) != 8 {
		return "", false
	}
	if _, err := strconv.ParseUint(h, 16, 32); err != nil {
		return "", false
	}
	return "#" + strings.ToUpper(h), true
}

// ParseHex parses a hex color. Without an alpha pair the color is opaque.
func ParseHex(s string) (RGBA, bool) {
	h, ok := ExpandHex(s)
	if !ok {
		return RGBA{}, false
	}
	v, _ := strconv.ParseUint(h[1:7], 16, 32)
	c := RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 1}
	if len(h) == 9 {
		a, _ := strconv.ParseUint(h[7:9], 16, 8)
		c.A = float64(a) / 255
	}
	return c, true
}

// ParseFunc parses rgb(r,g,b) and rgba(r,g,b,a). Channel values are clamped.
func ParseFunc(s string) (RGBA, bool) {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	var body string
	switch {
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		body = s[5 : len(s)-1]
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		body = s[4 : len(s)-1]
	default:
		return RGBA{}, false
	}
	parts := strings.Split(body, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return RGBA{}, false
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return RGBA{}, false
		}
		ch[i] = uint8(math.Max(0, math.Min(255, math.Round(f))))
	}
	c := RGBA{R: ch[0], G: ch[1], B: ch[2], A: 1}
	if len(parts) == 4 {
		a, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return RGBA{}, false
		}
		c.A = math.Max(0, math.Min(1, a))
	}
	return c, true
}

// Parse accepts hex or functional notation.
func Parse(s string) (RGBA, bool) {
	if c, ok := ParseHex(s); ok {
		return c, true
	}
	return ParseFunc(s)
}

// FFmpeg renders a color in ffmpeg's 0xRRGGBB[@alpha] syntax. Values ffmpeg
// understands natively (named colors, "black@0.5") pass through unchanged.
func FFmpeg(s string) string {
	s = strings.TrimSpace(s)
	c, ok := Parse(s)
	if !ok {
		return s
	}
	out := fmt.Sprintf("0x%02X%02X%02X", c.R, c.G, c.B)
	if c.A < 1 {
		out += "@" + strconv.FormatFloat(math.Round(c.A*100)/100, 'f', -1, 64)
	}
	return out
}
