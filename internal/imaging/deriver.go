// Package imaging provides the image derivation capability: producing a
// page's rendered image from its untouched source capture, a crop
// quadrilateral and a transform descriptor.
//
// The rendered artifact is always a pure function of
// (source image, crop, transforms). Synchronization never transfers rendered
// rasters between installations when geometry changes; each side re-derives
// locally through this package.
package imaging

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Point is a 2D coordinate on a source image, in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is a crop region given as four corners in clockwise order starting
// top-left. Corners need not form an axis-aligned rectangle.
type Quad [4]Point

// Bounds returns the axis-aligned bounding box of the quad as
// (minX, minY, maxX, maxY).
func (q Quad) Bounds() (float64, float64, float64, float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range q {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}

// IsZero reports whether the quad is unset.
func (q Quad) IsZero() bool {
	return q == Quad{}
}

// Result describes the rendered artifact written by Derive.
type Result struct {
	Width  int
	Height int
	Size   int64
}

// Deriver renders a page image from its source capture.
//
// Implementations write the result to destPath (overwriting any previous
// render) and report the resulting raster dimensions and file size.
type Deriver interface {
	// Derive crops sourcePath to quad, applies the transform pipeline
	// described by transforms, and writes the encoded result to destPath.
	// A zero quad means the full source frame.
	Derive(ctx context.Context, sourcePath, destPath string, quad Quad, transforms string) (*Result, error)

	// Encode writes raw captured image bytes to destPath at the
	// implementation's configured format and quality.
	Encode(data []byte, destPath string) (*Result, error)
}

// Transform is one step of a parsed transform descriptor.
type Transform struct {
	Name     string
	Value    float64
	HasValue bool
}

// ParseTransforms parses an opaque transform descriptor string.
//
// The descriptor is a comma-separated pipeline; each step is either a bare
// name ("grayscale") or a name:value pair ("brightness:12.5"). Empty steps
// are skipped so that ",," and trailing separators round-trip harmlessly.
func ParseTransforms(descriptor string) ([]Transform, error) {
	if descriptor == "" {
		return nil, nil
	}
	var steps []Transform
	for _, raw := range strings.Split(descriptor, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, value, found := strings.Cut(raw, ":")
		step := Transform{Name: strings.ToLower(name)}
		if found {
			var v float64
			if _, err := fmt.Sscanf(value, "%g", &v); err != nil {
				return nil, fmt.Errorf("invalid transform value %q in %q: %w", value, raw, err)
			}
			step.Value = v
			step.HasValue = true
		}
		steps = append(steps, step)
	}
	return steps, nil
}
