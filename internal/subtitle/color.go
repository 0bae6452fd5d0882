package subtitle

import (
	"fmt"
	"math"
	"strings"

	"github.com/reelkit/reelkit/internal/colors"
)

const (
	assWhite       = "&H00FFFFFF"
	assTransparent = "&HFF000000"
	assDefaultBack = "&H80000000"
)

// ASSColor converts #RGB, #RRGGBB or #RRGGBBAA to &HAABBGGRR. Alpha defaults
// to 00 (opaque). Anything else becomes white.
func ASSColor(hex string) string {
	h, ok := colors.ExpandHex(hex)
	if !ok {
		return assWhite
	}
	aa := "00"
	if len(h) == 9 {
		aa = h[7:9]
	}
	return "&H" + aa + h[5:7] + h[3:5] + h[1:3]
}

// ASSBackColor converts a CSS background color to an ASS BackColour. For
// rgba() the ASS alpha byte is round((1-a)*255), since ASS alpha is
// transparency. Hex colors get 0x80 unless they carry their own alpha.
func ASSBackColor(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return assDefaultBack
	case strings.EqualFold(s, "transparent"):
		return assTransparent
	case strings.HasPrefix(s, "#"):
		h, ok := colors.ExpandHex(s)
		if !ok {
			return assDefaultBack
		}
		aa := "80"
		if len(h) == 9 {
			aa = h[7:9]
		}
		return "&H" + aa + h[5:7] + h[3:5] + h[1:3]
	case strings.HasPrefix(strings.ToLower(s), "rgba"):
		c, ok := colors.ParseFunc(s)
		if !ok {
			return assDefaultBack
		}
		alpha := int(math.Round((1 - c.A) * 255))
		alpha = max(0, min(255, alpha))
		return fmt.Sprintf("&H%02X%02X%02X%02X", alpha, c.B, c.G, c.R)
	}
	return assDefaultBack
}
