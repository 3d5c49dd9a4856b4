package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const ContentTypeJPEG = "image/jpeg"

type Options struct {
	// MaxDimension bounds the longer side. Zero keeps the original size.
	MaxDimension int
	Quality      int
}

func DefaultOptions() Options {
	return Options{MaxDimension: 1024, Quality: 85}
}

// Info describes a normalized image.
type Info struct {
	Width        int
	Height       int
	SourceFormat string
	SizeBytes    int64
}

type ImageProcessor struct {
	opts Options
}

func NewImageProcessor(opts Options) *ImageProcessor {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultOptions().Quality
	}
	return &ImageProcessor{opts: opts}
}

// Normalize decodes any supported format, fits it inside MaxDimension and
// re-encodes it as JPEG.
func (p *ImageProcessor) Normalize(data []byte) ([]byte, *Info, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode image: %w", err)
	}

	if limit := p.opts.MaxDimension; limit > 0 {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.opts.Quality)); err != nil {
		return nil, nil, fmt.Errorf("encode image: %w", err)
	}

	bounds := img.Bounds()
	return buf.Bytes(), &Info{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		SourceFormat: format,
		SizeBytes:    int64(buf.Len()),
	}, nil
}
