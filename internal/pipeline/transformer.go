package pipeline

import (
	"context"
	"io"

	"github.com/dunamismax/pixelgate/internal/params"
)

// Transformer applies one request's transform to a byte stream: auto-orient
// always, then resize (never enlarging), then re-encode when a target format
// is set. Input flows in through in, the encoded result flows out through
// out; neither side is retained after Transform returns.
type Transformer interface {
	Transform(ctx context.Context, in io.Reader, out io.Writer, req params.TransformRequest) error
}

// New returns the codec-backed transformer when built with the govips tag and
// a pure-Go fallback otherwise.
func New() (Transformer, error) {
	return newTransformer()
}

// ContentTypeFor maps an output format to its response content type.
func ContentTypeFor(format params.Format) string {
	switch format {
	case params.FormatJPEG:
		return "image/jpeg"
	case params.FormatPNG:
		return "image/png"
	case params.FormatWebP:
		return "image/webp"
	case params.FormatAVIF:
		return "image/avif"
	case params.FormatGIF:
		return "image/gif"
	case params.FormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// fitScale returns horizontal and vertical scale factors for the requested
// box under the given fit mode, capped at 1 so the source is never enlarged.
// A zero width or height means that axis is unconstrained.
func fitScale(srcW, srcH, reqW, reqH int, fit params.Fit) (hscale, vscale float64) {
	if srcW <= 0 || srcH <= 0 || (reqW == 0 && reqH == 0) {
		return 1, 1
	}

	wr := scaleRatio(reqW, srcW)
	hr := scaleRatio(reqH, srcH)

	var scale float64
	switch {
	case reqW == 0:
		scale = hr
	case reqH == 0:
		scale = wr
	default:
		switch fit {
		case params.FitFill:
			return capScale(wr), capScale(hr)
		case params.FitContain, params.FitInside:
			scale = min(wr, hr)
		default: // cover, outside
			scale = max(wr, hr)
		}
	}

	scale = capScale(scale)
	return scale, scale
}

func scaleRatio(req, src int) float64 {
	if req <= 0 {
		return 1
	}
	return float64(req) / float64(src)
}

func capScale(s float64) float64 {
	if s > 1 || s <= 0 {
		return 1
	}
	return s
}

func scaled(dim int, scale float64) int {
	out := int(float64(dim)*scale + 0.5)
	if out < 1 {
		return 1
	}
	return out
}
