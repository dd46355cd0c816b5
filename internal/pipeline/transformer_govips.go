//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelgate/internal/params"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, in io.Reader, out io.Writer, req params.TransformRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read source stream: %w", err)
	}

	// Tolerant load: libvips keeps going past recoverable decode anomalies
	// (truncated scanlines, odd embedded profiles) instead of hard-failing.
	importParams := vips.NewImportParams()
	importParams.FailOnError.Set(false)

	img, err := vips.LoadImageFromBuffer(data, importParams)
	if err != nil {
		return fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return fmt.Errorf("auto-orient image: %w", err)
	}

	if err := applyResize(img, req); err != nil {
		return err
	}

	format := req.Format
	if format == "" {
		format = detectedFormat(img.Format())
	}

	encoded, err := exportImage(img, format, req.Quality)
	if err != nil {
		return err
	}

	if _, err := out.Write(encoded); err != nil {
		return fmt.Errorf("write encoded image: %w", err)
	}
	return nil
}

func applyResize(img *vips.ImageRef, req params.TransformRequest) error {
	if req.Width == 0 && req.Height == 0 {
		return nil
	}

	srcW, srcH := img.Width(), img.Height()
	if srcW <= 0 || srcH <= 0 {
		return fmt.Errorf("source image has invalid dimensions %dx%d", srcW, srcH)
	}

	hscale, vscale := fitScale(srcW, srcH, req.Width, req.Height, req.Fit)
	if hscale != 1 || vscale != 1 {
		if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	}

	// cover crops the scaled image down to the requested box, centered.
	if req.Fit == params.FitCover && req.Width > 0 && req.Height > 0 {
		cropW := min(req.Width, img.Width())
		cropH := min(req.Height, img.Height())
		if cropW < img.Width() || cropH < img.Height() {
			left := (img.Width() - cropW) / 2
			top := (img.Height() - cropH) / 2
			if err := img.ExtractArea(left, top, cropW, cropH); err != nil {
				return fmt.Errorf("crop image: %w", err)
			}
		}
	}

	return nil
}

func detectedFormat(imageType vips.ImageType) params.Format {
	switch imageType {
	case vips.ImageTypeJPEG:
		return params.FormatJPEG
	case vips.ImageTypePNG:
		return params.FormatPNG
	case vips.ImageTypeWEBP:
		return params.FormatWebP
	case vips.ImageTypeAVIF:
		return params.FormatAVIF
	case vips.ImageTypeGIF:
		return params.FormatGIF
	case vips.ImageTypeTIFF:
		return params.FormatTIFF
	default:
		return params.FormatJPEG
	}
}

func exportImage(img *vips.ImageRef, format params.Format, quality int) ([]byte, error) {
	useQuality := format.SupportsQuality() && quality >= 1 && quality <= 100

	switch format {
	case params.FormatJPEG:
		p := vips.NewJpegExportParams()
		if useQuality {
			p.Quality = quality
		}
		data, _, err := img.ExportJpeg(p)
		return data, wrapEncodeErr("jpeg", err)
	case params.FormatPNG:
		p := vips.NewPngExportParams()
		if useQuality {
			p.Quality = quality
		}
		data, _, err := img.ExportPng(p)
		return data, wrapEncodeErr("png", err)
	case params.FormatWebP:
		p := vips.NewWebpExportParams()
		if useQuality {
			p.Quality = quality
		}
		data, _, err := img.ExportWebp(p)
		return data, wrapEncodeErr("webp", err)
	case params.FormatAVIF:
		p := vips.NewAvifExportParams()
		if useQuality {
			p.Quality = quality
		}
		data, _, err := img.ExportAvif(p)
		return data, wrapEncodeErr("avif", err)
	case params.FormatGIF:
		p := vips.NewGifExportParams()
		data, _, err := img.ExportGIF(p)
		return data, wrapEncodeErr("gif", err)
	case params.FormatTIFF:
		p := vips.NewTiffExportParams()
		if useQuality {
			p.Quality = quality
		}
		data, _, err := img.ExportTiff(p)
		return data, wrapEncodeErr("tiff", err)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func wrapEncodeErr(format string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("encode %s: %w", format, err)
}
