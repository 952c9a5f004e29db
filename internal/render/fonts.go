package render

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// systemFontPaths are tried, in order, when no bundled font is usable.
var systemFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"/Library/Fonts/Arial.ttf",
	`C:\Windows\Fonts\arial.ttf`,
}

// FontResolver resolves font family names to sized faces using an
// ordered chain of sources:
//
//  1. the exact requested file under the fonts directory
//  2. the designated fallback file under the fonts directory
//  3. any bundled .ttf/.otf under the fonts directory
//  4. a platform system font
//  5. the embedded Go Regular font
//  6. a built-in bitmap face as last resort
//
// Each step is tried only if the previous one fails; resolution never
// returns an error to the caller.
type FontResolver struct {
	dir      string
	fallback string

	mu      sync.Mutex
	parsed  map[string]*opentype.Font // keyed by file path
	builtin *opentype.Font

	builtinOnce sync.Once
}

// NewFontResolver creates a resolver over the given fonts directory.
// fallback is the filename of the designated bundled fallback font.
func NewFontResolver(dir, fallback string) *FontResolver {
	return &FontResolver{
		dir:      dir,
		fallback: fallback,
		parsed:   make(map[string]*opentype.Font),
	}
}

// Face returns a usable face for the requested family at the given
// pixel size. It never fails; the worst case is the bitmap fallback.
func (r *FontResolver) Face(name string, size int) font.Face {
	for _, source := range r.chain(name) {
		fnt, ok := source()
		if !ok {
			continue
		}
		face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
			Size:    float64(size),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			continue
		}
		return face
	}
	return basicfont.Face7x13
}

// chain builds the ordered source list for one resolution attempt.
func (r *FontResolver) chain(name string) []func() (*opentype.Font, bool) {
	sources := make([]func() (*opentype.Font, bool), 0, 5)
	if name != "" {
		sources = append(sources, func() (*opentype.Font, bool) {
			return r.fromFile(filepath.Join(r.dir, filepath.Base(name)))
		})
	}
	if r.fallback != "" {
		sources = append(sources, func() (*opentype.Font, bool) {
			return r.fromFile(filepath.Join(r.dir, r.fallback))
		})
	}
	sources = append(sources,
		r.anyBundled,
		r.systemFont,
		r.embedded,
	)
	return sources
}

// fromFile parses and caches a single font file.
func (r *FontResolver) fromFile(path string) (*opentype.Font, bool) {
	r.mu.Lock()
	if fnt, ok := r.parsed[path]; ok {
		r.mu.Unlock()
		return fnt, fnt != nil
	}
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	var fnt *opentype.Font
	if err == nil {
		fnt, err = opentype.Parse(data)
		if err != nil {
			fnt = nil
		}
	}

	// Negative results are cached too so a missing file is stat'd once
	// per resolver, not once per fit attempt.
	r.mu.Lock()
	r.parsed[path] = fnt
	r.mu.Unlock()
	return fnt, fnt != nil
}

// anyBundled returns the first parseable .ttf/.otf in the fonts dir.
func (r *FontResolver) anyBundled() (*opentype.Font, bool) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".ttf", ".otf":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if fnt, ok := r.fromFile(filepath.Join(r.dir, n)); ok {
			return fnt, true
		}
	}
	return nil, false
}

func (r *FontResolver) systemFont() (*opentype.Font, bool) {
	for _, path := range systemFontPaths {
		if fnt, ok := r.fromFile(path); ok {
			return fnt, true
		}
	}
	return nil, false
}

// embedded parses the Go Regular font shipped with golang.org/x/image.
func (r *FontResolver) embedded() (*opentype.Font, bool) {
	r.builtinOnce.Do(func() {
		fnt, err := opentype.Parse(goregular.TTF)
		if err == nil {
			r.builtin = fnt
		}
	})
	return r.builtin, r.builtin != nil
}
