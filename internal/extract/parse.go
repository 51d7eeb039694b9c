package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

type rawProduct struct {
	Name   string `json:"name"`
	Price  any    `json:"price"`
	URL    string `json:"url"`
	Image  string `json:"image"`
	SKU    string `json:"sku"`
	Source string `json:"source"`
}

// parseProducts decodes model output into product candidates. It accepts a
// bare array or an object with a "products" array, optionally wrapped in a
// markdown code fence, and falls back to JSON5 for unquoted keys, trailing
// commas and comments. Single-quoted strings are rewritten to double-quoted
// ones before the JSON5 pass.
func parseProducts(s string) ([]rawProduct, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty model output")
	}
	if items, err := decode(s, json.Unmarshal); err == nil {
		return items, nil
	}
	s = stripFence(s)
	if items, err := decode(s, json.Unmarshal); err == nil {
		return items, nil
	}
	items, err := decode(s, unmarshalJSON5)
	if err != nil {
		return nil, fmt.Errorf("decoding products: %w", err)
	}
	return items, nil
}

// unmarshalJSON5 parses lenient input into generic values and re-encodes
// them so struct decoding follows encoding/json rules.
func unmarshalJSON5(data []byte, v any) error {
	var raw any
	if err := json5.Unmarshal([]byte(doubleQuote(string(data))), &raw); err != nil {
		return fmt.Errorf("json5 parse: %w", err)
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalized, v)
}

// doubleQuote rewrites 'single-quoted' strings as "double-quoted" ones, which
// is the one JSON5 form the json5 decoder does not accept. Double-quoted
// strings and comments pass through untouched.
func doubleQuote(s string) string {
	if !strings.ContainsRune(s, '\'') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			j := skipString(s, i)
			b.WriteString(s[i:j])
			i = j - 1
		case c == '/' && i+1 < len(s) && (s[i+1] == '/' || s[i+1] == '*'):
			j := skipComment(s, i)
			b.WriteString(s[i:j])
			i = j - 1
		case c == '\'':
			b.WriteByte('"')
			for i++; i < len(s) && s[i] != '\''; i++ {
				switch {
				case s[i] == '\\' && i+1 < len(s) && s[i+1] == '\'':
					b.WriteByte('\'')
					i++
				case s[i] == '\\' && i+1 < len(s):
					b.WriteString(s[i : i+2])
					i++
				case s[i] == '"':
					b.WriteString(`\"`)
				default:
					b.WriteByte(s[i])
				}
			}
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// skipString returns the index just past the double-quoted string at s[i].
func skipString(s string, i int) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(s)
}

// skipComment returns the index just past the comment starting at s[i].
func skipComment(s string, i int) int {
	if s[i+1] == '/' {
		if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
			return i + j
		}
		return len(s)
	}
	if j := strings.Index(s[i+2:], "*/"); j >= 0 {
		return i + 2 + j + 2
	}
	return len(s)
}

func decode(s string, unmarshal func([]byte, any) error) ([]rawProduct, error) {
	if strings.HasPrefix(s, "[") {
		var items []rawProduct
		if err := unmarshal([]byte(s), &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped struct {
		Products []rawProduct `json:"products"`
	}
	if err := unmarshal([]byte(s), &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Products == nil {
		return nil, fmt.Errorf("no products field")
	}
	return wrapped.Products, nil
}

// stripFence removes a surrounding ``` or ```json fence and any prose
// outside the outermost JSON value.
func stripFence(s string) string {
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	closer := byte(']')
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

func formatPrice(v any) string {
	switch p := v.(type) {
	case nil:
		return ""
	case float64:
		if p <= 0 {
			return ""
		}
		return strconv.FormatFloat(p, 'f', -1, 64)
	case string:
		return strings.TrimSpace(p)
	default:
		return strings.TrimSpace(fmt.Sprint(p))
	}
}
