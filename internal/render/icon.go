package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/banshee-data/fleettrack/internal/position"
)

// ContentType is the media type of generated icons.
const ContentType = "image/svg+xml"

// Icon is a generated marker image. Icons are immutable once generated.
type Icon struct {
	State State
	SVG   []byte
	etag  string
}

// ETag returns a quoted, stable digest of the icon bytes.
func (i *Icon) ETag() string { return i.etag }

var statusFill = map[position.Status]string{
	position.StatusMoving:  "#2e7d32",
	position.StatusIdle:    "#f9a825",
	position.StatusStopped: "#c62828",
	position.StatusOffline: "#757575",
}

var categoryGlyph = map[string]string{
	"car":        "C",
	"truck":      "T",
	"bus":        "B",
	"van":        "V",
	"motorcycle": "M",
	"bicycle":    "b",
	"person":     "P",
}

// Generate renders the icon for s. The output depends only on s, so equal
// states produce byte-identical SVG.
func Generate(s State) *Icon {
	fill, ok := statusFill[s.Status]
	if !ok {
		fill = "#455a64"
	}
	glyph, ok := categoryGlyph[strings.ToLower(s.Category)]
	if !ok {
		glyph = "?"
	}

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="48" height="48" viewBox="0 0 48 48">`)
	if s.HeadingBucket != NoHeading {
		fmt.Fprintf(&b, `<g transform="rotate(%d 24 24)"><path d="M24 2 L31 13 L17 13 Z" fill="%s"/></g>`, s.HeadingBucket, fill)
	}
	fmt.Fprintf(&b, `<circle cx="24" cy="24" r="13" fill="%s" stroke="#ffffff" stroke-width="2"/>`, fill)
	fmt.Fprintf(&b, `<text x="24" y="29" font-family="sans-serif" font-size="13" text-anchor="middle" fill="#ffffff">%s</text>`, glyph)
	if s.Status == position.StatusMoving || s.SpeedBucket > 0 {
		fmt.Fprintf(&b, `<text x="24" y="47" font-family="sans-serif" font-size="9" text-anchor="middle" fill="#212121">%d</text>`, s.SpeedBucket)
	}
	if s.Blocked {
		b.WriteString(`<circle cx="38" cy="10" r="7" fill="#b71c1c"/><path d="M34 10 H42" stroke="#ffffff" stroke-width="2"/>`)
	}
	b.WriteString(`</svg>`)

	svg := []byte(b.String())
	sum := sha256.Sum256(svg)
	return &Icon{
		State: s,
		SVG:   svg,
		etag:  `"` + hex.EncodeToString(sum[:8]) + `"`,
	}
}
