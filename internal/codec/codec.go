// Package codec encodes raw frames into image file formats.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/smazurov/camnode/internal/frames"
	"github.com/smazurov/camnode/internal/types"
)

// Format is an output image format.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
)

const (
	// DefaultSnapQuality is used for single-shot captures.
	DefaultSnapQuality = 95
	// DefaultStreamQuality is used for live preview frames.
	DefaultStreamQuality = 85
)

// ErrUnsupportedFormat is returned for formats the codec cannot produce.
var ErrUnsupportedFormat = errors.New("codec: unsupported format")

// EncodeError reports a frame that could not be encoded.
type EncodeError struct {
	Format Format
	Seq    uint64
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode frame %d as %s: %v", e.Seq, e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ParseFormat accepts a format name or common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "tiff", "tif":
		return TIFF, nil
	case "bmp":
		return BMP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case TIFF:
		return "image/tiff"
	case BMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the usual file extension for f, without the dot.
func (f Format) Extension() string {
	if f == JPEG {
		return "jpg"
	}
	return string(f)
}

// Options tunes encoding.
type Options struct {
	// Quality is the JPEG quality (1-100). Zero selects DefaultSnapQuality.
	Quality int
	// MaxWidth downscales wider frames, keeping the aspect ratio. Zero disables.
	MaxWidth int
}

// Encoder encodes frames. The zero value is ready to use.
type Encoder struct{}

// Encode encodes f with the package-level Encode.
func (Encoder) Encode(f *frames.Frame, format Format, opts Options) ([]byte, error) {
	return Encode(f, format, opts)
}

// Encode converts f to format.
func Encode(f *frames.Frame, format Format, opts Options) ([]byte, error) {
	switch format {
	case JPEG, PNG, TIFF, BMP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	img, err := ToImage(f)
	if err != nil {
		return nil, &EncodeError{Format: format, Seq: f.Seq, Err: err}
	}
	if opts.MaxWidth > 0 && img.Bounds().Dx() > opts.MaxWidth {
		img = scale(img, opts.MaxWidth)
	}

	var buf bytes.Buffer
	switch format {
	case JPEG:
		q := opts.Quality
		if q <= 0 || q > 100 {
			q = DefaultSnapQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	case PNG:
		err = png.Encode(&buf, img)
	case TIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case BMP:
		err = bmp.Encode(&buf, img)
	}
	if err != nil {
		return nil, &EncodeError{Format: format, Seq: f.Seq, Err: err}
	}
	return buf.Bytes(), nil
}

// ToImage wraps the frame's pixels in an image.Image. Mono frames share the
// frame buffer; color frames are converted to RGBA.
func ToImage(f *frames.Frame) (image.Image, error) {
	channels := f.Format.Channels()
	if channels == 0 {
		return nil, fmt.Errorf("unknown pixel format %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if need := f.Width * f.Height * channels; len(f.Data) < need {
		return nil, fmt.Errorf("frame buffer has %d bytes, need %d", len(f.Data), need)
	}

	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Format == types.PixelMono8 {
		return &image.Gray{Pix: f.Data[:f.Width*f.Height], Stride: f.Width, Rect: rect}, nil
	}

	img := image.NewRGBA(rect)
	r, b := 0, 2
	if f.Format == types.PixelBGR8 {
		r, b = 2, 0
	}
	src := f.Data
	dst := img.Pix
	for i, j := 0, 0; i < f.Width*f.Height*3; i, j = i+3, j+4 {
		dst[j] = src[i+r]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+b]
		dst[j+3] = 0xff
	}
	return img, nil
}

func scale(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	rect := image.Rect(0, 0, maxWidth, height)

	var dst draw.Image
	if _, ok := src.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}
