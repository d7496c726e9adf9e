package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Options configures encoding of rendered images.
type Options struct {
	// Format is the encoded image format: "jpg" or "png".
	Format string
	// Quality is the JPEG quality (1-100). Ignored for PNG.
	Quality int
}

// DefaultOptions returns the encoding defaults used by the scanner.
func DefaultOptions() Options {
	return Options{Format: "jpg", Quality: 90}
}

// Raster is the built-in Deriver implementation.
//
// It crops the source to the quad's bounding box and applies the transform
// pipeline with in-process raster operations. Perspective correction beyond
// the bounding-box crop is left to the capture pipeline that produced the
// source image.
type Raster struct {
	opts Options
}

// NewRaster creates a Raster deriver with the given encoding options.
func NewRaster(opts Options) *Raster {
	if opts.Format == "" {
		opts = DefaultOptions()
	}
	return &Raster{opts: opts}
}

// Derive implements Deriver.
func (r *Raster) Derive(ctx context.Context, sourcePath, destPath string, quad Quad, transforms string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := imaging.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source image %s: %w", sourcePath, err)
	}

	img := crop(src, quad)

	steps, err := ParseTransforms(transforms)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		img, err = apply(img, step)
		if err != nil {
			return nil, err
		}
	}

	if err := r.save(img, destPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat rendered image: %w", err)
	}
	b := img.Bounds()
	return &Result{Width: b.Dx(), Height: b.Dy(), Size: info.Size()}, nil
}

// Encode decodes raw image bytes and re-encodes them to destPath at the
// configured format and quality. Used when a page is added from in-memory
// capture data rather than an existing file.
func (r *Raster) Encode(data []byte, destPath string) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	if err := r.save(img, destPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat encoded image: %w", err)
	}
	b := img.Bounds()
	return &Result{Width: b.Dx(), Height: b.Dy(), Size: info.Size()}, nil
}

func (r *Raster) save(img image.Image, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	var opts []imaging.EncodeOption
	if strings.EqualFold(r.opts.Format, "jpg") || strings.EqualFold(r.opts.Format, "jpeg") {
		opts = append(opts, imaging.JPEGQuality(r.opts.Quality))
	}
	if err := imaging.Save(img, destPath, opts...); err != nil {
		return fmt.Errorf("save rendered image %s: %w", destPath, err)
	}
	return nil
}

func crop(src image.Image, quad Quad) image.Image {
	if quad.IsZero() {
		return src
	}
	minX, minY, maxX, maxY := quad.Bounds()
	rect := image.Rect(int(minX), int(minY), int(maxX+0.5), int(maxY+0.5))
	rect = rect.Intersect(src.Bounds())
	if rect.Empty() {
		return src
	}
	return imaging.Crop(src, rect)
}

func apply(img image.Image, step Transform) (image.Image, error) {
	switch step.Name {
	case "grayscale":
		return imaging.Grayscale(img), nil
	case "invert":
		return imaging.Invert(img), nil
	case "sharpen":
		v := step.Value
		if !step.HasValue {
			v = 1
		}
		return imaging.Sharpen(img, v), nil
	case "blur":
		v := step.Value
		if !step.HasValue {
			v = 1
		}
		return imaging.Blur(img, v), nil
	case "brightness":
		return imaging.AdjustBrightness(img, step.Value), nil
	case "contrast":
		return imaging.AdjustContrast(img, step.Value), nil
	case "gamma":
		return imaging.AdjustGamma(img, step.Value), nil
	case "saturation":
		return imaging.AdjustSaturation(img, step.Value), nil
	case "rotate":
		return imaging.Rotate(img, step.Value, color.Transparent), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", step.Name)
	}
}
