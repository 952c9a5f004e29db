// Package render composites placeholder text onto a template image,
// fitting font sizes to each placeholder's bounding box.
package render

import (
	"image/color"
	"sort"
	"strings"

	"certmill/internal/pkg/errors"
)

// Record is one spreadsheet row as a field→value mapping.
// Missing fields render as empty strings, never as an error.
type Record map[string]string

// PlaceholderSpec describes one named, positioned text region.
// Width/Height of 0 mean the box is unconstrained: text is drawn at
// (X, Y) with the initial size, without fitting or centering.
type PlaceholderSpec struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`

	// Field is the single source column (legacy single-column mode).
	Field string `json:"label,omitempty"`
	// Fields, when non-empty, takes precedence: the trimmed, non-empty
	// values of these columns are joined with Separator in declared order.
	Fields    []string `json:"columns,omitempty"`
	Separator string   `json:"separator,omitempty"`

	Font     string `json:"font,omitempty"`
	FontSize int    `json:"font_size,omitempty"`
	Color    string `json:"color,omitempty"`

	// Bold and Italic are accepted but currently have no rendering effect.
	Bold      bool `json:"bold,omitempty"`
	Italic    bool `json:"italic,omitempty"`
	Underline bool `json:"underline,omitempty"`
}

// Layout is the complete placeholder set for one template, keyed by
// placeholder name. It is immutable for the duration of a batch run.
type Layout map[string]PlaceholderSpec

// Validate rejects malformed boxes before any rendering starts.
func (l Layout) Validate() error {
	for key, spec := range l {
		if spec.Width < 0 || spec.Height < 0 {
			return errors.ValidationField(key, "placeholder width/height must not be negative")
		}
	}
	return nil
}

// keys returns placeholder names in a stable order so renders are
// deterministic regardless of map iteration.
func (l Layout) keys() []string {
	out := make([]string, 0, len(l))
	for k := range l {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// initialSize picks the starting font size for a placeholder: the
// declared size if set, otherwise derived from the box height.
func (s PlaceholderSpec) initialSize() int {
	if s.FontSize > 0 {
		return s.FontSize
	}
	if s.Height > 0 {
		size := int(float64(s.Height) * 0.6)
		if size < 12 {
			size = 12
		}
		return size
	}
	return 40
}

// placeholderText resolves a placeholder's text from a record.
func placeholderText(spec PlaceholderSpec, rec Record) string {
	if len(spec.Fields) > 0 {
		sep := spec.Separator
		if sep == "" {
			sep = " "
		}
		parts := make([]string, 0, len(spec.Fields))
		for _, field := range spec.Fields {
			if field == "" {
				continue
			}
			v, ok := rec[field]
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			if v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, sep)
	}

	if spec.Field != "" {
		return rec[spec.Field]
	}
	return ""
}

// parseHexColor parses "#RRGGBB" or "#RGB"; anything else is black.
func parseHexColor(s string) color.RGBA {
	black := color.RGBA{A: 0xff}
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")

	hexVal := func(c byte) (uint8, bool) {
		switch {
		case c >= '0' && c <= '9':
			return c - '0', true
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10, true
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10, true
		}
		return 0, false
	}

	switch len(s) {
	case 6:
		var v [6]uint8
		for i := 0; i < 6; i++ {
			n, ok := hexVal(s[i])
			if !ok {
				return black
			}
			v[i] = n
		}
		return color.RGBA{R: v[0]<<4 | v[1], G: v[2]<<4 | v[3], B: v[4]<<4 | v[5], A: 0xff}
	case 3:
		var v [3]uint8
		for i := 0; i < 3; i++ {
			n, ok := hexVal(s[i])
			if !ok {
				return black
			}
			v[i] = n
		}
		return color.RGBA{R: v[0]<<4 | v[0], G: v[1]<<4 | v[1], B: v[2]<<4 | v[2], A: 0xff}
	}
	return black
}
