package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenKind tags the variant held by a Token.
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenDuration
	TokenThemeColor
	TokenThemeFont
	TokenPlaceholder
)

const (
	refDuration    = "$duration"
	refThemeColors = "$theme.colors."
	refThemeFonts  = "$theme.fonts."
	refPlaceholder = "$placeholder."
)

// Token is a field value that is either a literal or a symbolic reference
// resolved against the render context. References are parsed once when the
// definition is decoded.
type Token struct {
	Kind  TokenKind
	Key   string // theme key or placeholder id
	Value any    // literal value: string, float64, bool or nil
}

// Lit returns a literal token.
func Lit(v any) Token {
	return Token{Kind: TokenLiteral, Value: normalizeValue(v)}
}

// ParseToken classifies a raw decoded value. Strings of an unknown "$..." form
// stay literals.
func ParseToken(v any) Token {
	s, ok := v.(string)
	if !ok {
		return Lit(v)
	}
	switch {
	case s == refDuration:
		return Token{Kind: TokenDuration}
	case strings.HasPrefix(s, refThemeColors) && len(s) > len(refThemeColors):
		return Token{Kind: TokenThemeColor, Key: s[len(refThemeColors):]}
	case strings.HasPrefix(s, refThemeFonts) && len(s) > len(refThemeFonts):
		return Token{Kind: TokenThemeFont, Key: s[len(refThemeFonts):]}
	case strings.HasPrefix(s, refPlaceholder) && len(s) > len(refPlaceholder):
		return Token{Kind: TokenPlaceholder, Key: s[len(refPlaceholder):]}
	}
	return Lit(s)
}

func (t Token) IsLiteral() bool { return t.Kind == TokenLiteral }

// IsNull reports whether the token is a literal without a value.
func (t Token) IsNull() bool { return t.Kind == TokenLiteral && t.Value == nil }

// Ref returns the textual reference form, or "" for literals.
func (t Token) Ref() string {
	switch t.Kind {
	case TokenDuration:
		return refDuration
	case TokenThemeColor:
		return refThemeColors + t.Key
	case TokenThemeFont:
		return refThemeFonts + t.Key
	case TokenPlaceholder:
		return refPlaceholder + t.Key
	}
	return ""
}

// Text returns the literal as a string. Numbers are formatted in their
// shortest form; nil yields "".
func (t Token) Text() string {
	if !t.IsLiteral() {
		return ""
	}
	switch v := t.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the literal as a number. Numeric strings are accepted since
// customization values often arrive as form text.
func (t Token) Float() (float64, bool) {
	if !t.IsLiteral() {
		return 0, false
	}
	switch v := t.Value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// FloatOr returns Float or def when the token has no numeric value.
func (t Token) FloatOr(def float64) float64 {
	if f, ok := t.Float(); ok {
		return f
	}
	return def
}

// IntOr rounds Float toward zero, or returns def.
func (t Token) IntOr(def int) int {
	if f, ok := t.Float(); ok {
		return int(f)
	}
	return def
}

func (t Token) MarshalJSON() ([]byte, error) {
	if ref := t.Ref(); ref != "" {
		return json.Marshal(ref)
	}
	return json.Marshal(t.Value)
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = ParseToken(v)
	return nil
}

func (t Token) MarshalYAML() (any, error) {
	if ref := t.Ref(); ref != "" {
		return ref, nil
	}
	return t.Value, nil
}

func (t *Token) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	*t = ParseToken(v)
	return nil
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
