package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelgate/internal/params"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// stdTransformer is the pure-Go fallback used when the build lacks the
// govips tag. Compressed input must be complete before decoding can start,
// so streaming is realized at the pipe level: the reader is consumed as the
// upstream delivers and the encoded result is written straight through.
type stdTransformer struct{}

func (t stdTransformer) Transform(ctx context.Context, in io.Reader, out io.Writer, req params.TransformRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read source stream: %w", err)
	}

	_, srcFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("detect source format: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode source image: %w", err)
	}

	img = resizeForRequest(img, req)

	format := req.Format
	if format == "" {
		format = sourceFormat(srcFormat)
	}

	return encodeTo(out, img, format, req.Quality)
}

func resizeForRequest(img image.Image, req params.TransformRequest) image.Image {
	if req.Width == 0 && req.Height == 0 {
		return img
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	// Enlargement is disabled: the requested box is clamped to the source
	// dimensions before any fit math runs.
	targetW := req.Width
	if targetW > srcW {
		targetW = srcW
	}
	targetH := req.Height
	if targetH > srcH {
		targetH = srcH
	}

	if targetW == 0 || targetH == 0 {
		return imaging.Resize(img, targetW, targetH, imaging.Lanczos)
	}

	switch req.Fit {
	case params.FitContain, params.FitInside:
		return imaging.Fit(img, targetW, targetH, imaging.Lanczos)
	case params.FitFill:
		return imaging.Resize(img, targetW, targetH, imaging.Lanczos)
	case params.FitOutside:
		hs, vs := fitScale(srcW, srcH, targetW, targetH, params.FitOutside)
		return imaging.Resize(img, scaled(srcW, hs), scaled(srcH, vs), imaging.Lanczos)
	default: // cover
		return imaging.Fill(img, targetW, targetH, imaging.Center, imaging.Lanczos)
	}
}

func sourceFormat(name string) params.Format {
	switch name {
	case "jpeg":
		return params.FormatJPEG
	case "png":
		return params.FormatPNG
	case "webp":
		return params.FormatWebP
	case "gif":
		return params.FormatGIF
	case "tiff":
		return params.FormatTIFF
	default:
		return params.FormatJPEG
	}
}

func encodeTo(out io.Writer, img image.Image, format params.Format, quality int) error {
	if quality < 1 || quality > 100 {
		quality = 80
	}

	switch format {
	case params.FormatJPEG:
		if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case params.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(out, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	case params.FormatWebP:
		if err := webp.Encode(out, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
	case params.FormatGIF:
		if err := gif.Encode(out, img, nil); err != nil {
			return fmt.Errorf("encode gif: %w", err)
		}
	case params.FormatTIFF:
		if err := tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return fmt.Errorf("encode tiff: %w", err)
		}
	case params.FormatAVIF:
		return errors.New("avif export requires govips build tag")
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	return nil
}
