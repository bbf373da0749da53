// Package normalize turns arbitrary uploaded image bytes into the canonical
// sticker form: a centered 2:3 crop resized to exactly 400×600 and encoded
// as JPEG.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Canonical sticker geometry.
const (
	TargetWidth    = 400
	TargetHeight   = 600
	DefaultQuality = 80

	// MaxPixels bounds the declared size of an image accepted for decoding.
	MaxPixels = 50_000_000
)

// ErrDecode is returned when raw bytes cannot be decoded as an image.
var ErrDecode = errors.New("cannot decode image")

// Resampler names accepted by New.
const (
	CatmullRom = "catmullrom"
	BiLinear   = "bilinear"
	Lanczos3   = "lanczos3"
)

// Image is a normalized sticker image.
type Image struct {
	Data   []byte
	Width  int
	Height int
}

// Normalizer crops, resizes and encodes images. It is safe for concurrent use.
type Normalizer struct {
	quality   int
	resampler string
}

// New returns a Normalizer encoding at quality (1–100) with the named
// resampler. Unknown resamplers are an error; a zero quality means
// DefaultQuality.
func New(quality int, resampler string) (*Normalizer, error) {
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range 1-100", quality)
	}
	switch resampler {
	case "":
		resampler = CatmullRom
	case CatmullRom, BiLinear, Lanczos3:
	default:
		return nil, fmt.Errorf("unknown resampler %q", resampler)
	}
	return &Normalizer{quality: quality, resampler: resampler}, nil
}

// Normalize decodes raw, crops it to the target aspect ratio around its
// center, resizes the crop to TargetWidth×TargetHeight and re-encodes it.
func (n *Normalizer) Normalize(raw []byte) (Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if uint64(cfg.Width)*uint64(cfg.Height) > MaxPixels {
		return Image{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrDecode)
	}

	crop := CropRect(b.Dx(), b.Dy()).Add(b.Min)
	dst := n.scale(src, crop)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.quality}); err != nil {
		return Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Image{Data: buf.Bytes(), Width: TargetWidth, Height: TargetHeight}, nil
}

func (n *Normalizer) scale(src image.Image, crop image.Rectangle) image.Image {
	if n.resampler == Lanczos3 {
		return resize.Resize(TargetWidth, TargetHeight, subImage(src, crop), resize.Lanczos3)
	}
	dst := image.NewRGBA(image.Rect(0, 0, TargetWidth, TargetHeight))
	kernel := draw.CatmullRom
	if n.resampler == BiLinear {
		kernel = draw.BiLinear
	}
	kernel.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// subImage returns the crop region of src, copying into an RGBA buffer when
// the decoded type cannot share its pixels.
func subImage(src image.Image, r image.Rectangle) image.Image {
	if s, ok := src.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// CropRect returns the centered region of a w×h image that has the target
// 2:3 aspect ratio. Wider images lose their sides, taller ones their top and
// bottom. The rectangle is relative to the image origin.
func CropRect(w, h int) image.Rectangle {
	const rt = float64(TargetWidth) / float64(TargetHeight)
	r := float64(w) / float64(h)
	if r > rt {
		sw := clamp(int(math.Round(float64(h)*rt)), 1, w)
		sx := (w - sw) / 2
		return image.Rect(sx, 0, sx+sw, h)
	}
	sh := clamp(int(math.Round(float64(w)/rt)), 1, h)
	sy := (h - sh) / 2
	return image.Rect(0, sy, w, sy+sh)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Dimensions returns the width and height of an encoded image without
// decoding its pixels.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}
