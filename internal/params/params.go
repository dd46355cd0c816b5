// Package params normalizes raw query parameters into a validated transform
// request. Normalization is deliberately lenient: malformed dimensions,
// unrecognized fit tokens and unknown formats fall back to safe defaults
// instead of rejecting the request. Only the source URL is validated strictly,
// because a bad URL cannot be defaulted away.
package params

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// MaxDimension is the hard ceiling for requested width and height.
const MaxDimension = 4000

type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
)

// SupportsQuality reports whether the format accepts a quality setting.
func (f Format) SupportsQuality() bool {
	return f != FormatGIF && f != ""
}

// TriggerProfile selects how TransformRequested is derived. The two deployment
// variants disagree on this and both behaviors are kept.
type TriggerProfile int

const (
	// TriggerEffective counts a parameter only when it normalized to an
	// effective value; w=abc alone does not route through the transformer.
	TriggerEffective TriggerProfile = iota

	// TriggerPresence counts the mere presence of any transform-affecting
	// key, even when its value normalized to absent.
	TriggerPresence
)

var (
	ErrMissingParameter  = errors.New("missing required url parameter")
	ErrInvalidURL        = errors.New("invalid source url")
	ErrUnsupportedScheme = errors.New("unsupported source url scheme")
)

// TransformRequest is the validated descriptor for one request. Immutable
// after construction; zero width/height/quality mean "no constraint".
type TransformRequest struct {
	SourceURL string
	Width     int
	Height    int
	Fit       Fit
	Format    Format // "" keeps the source format
	Quality   int

	// TransformRequested drives the passthrough-vs-transform branch. When
	// false the transform stage must never be invoked.
	TransformRequested bool
}

var triggerKeys = []string{"w", "h", "fit", "format", "q"}

// FromQuery builds a TransformRequest for the query-parameter route, where
// the source URL arrives as the url query key.
func FromQuery(query url.Values, profile TriggerProfile) (TransformRequest, error) {
	if !query.Has("url") {
		return TransformRequest{}, ErrMissingParameter
	}
	return ForSource(query.Get("url"), query, profile)
}

// ForSource builds a TransformRequest for an already-derived source URL, as
// the path-based route does after its own shape and host checks.
func ForSource(sourceURL string, query url.Values, profile TriggerProfile) (TransformRequest, error) {
	if err := validateSourceURL(sourceURL); err != nil {
		return TransformRequest{}, err
	}

	fit, fitExplicit := parseFit(query.Get("fit"))

	req := TransformRequest{
		SourceURL: sourceURL,
		Width:     parseDimension(query.Get("w")),
		Height:    parseDimension(query.Get("h")),
		Fit:       fit,
		Format:    parseFormat(query.Get("format")),
		Quality:   parseQuality(query.Get("q")),
	}

	switch profile {
	case TriggerPresence:
		for _, key := range triggerKeys {
			if query.Has(key) {
				req.TransformRequested = true
				break
			}
		}
	default:
		req.TransformRequested = req.Width > 0 || req.Height > 0 ||
			req.Format != "" || req.Quality > 0 || fitExplicit
	}

	return req, nil
}

func validateSourceURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	switch parsed.Scheme {
	case "http", "https":
	case "":
		// Relative references are not absolute URLs.
		return ErrInvalidURL
	default:
		return ErrUnsupportedScheme
	}
	if parsed.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// parseDimension treats anything non-numeric or non-positive as absent and
// clamps the rest to MaxDimension.
func parseDimension(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0
	}
	if value > MaxDimension {
		return MaxDimension
	}
	return value
}

// parseFit always produces a value; unrecognized tokens resolve to cover so a
// typo degrades the crop mode instead of failing the request.
func parseFit(raw string) (Fit, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch Fit(token) {
	case FitCover, FitContain, FitFill, FitInside, FitOutside:
		return Fit(token), true
	default:
		return FitCover, raw != ""
	}
}

func parseFormat(raw string) Format {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "jpg" {
		token = "jpeg"
	}
	switch Format(token) {
	case FormatJPEG, FormatPNG, FormatWebP, FormatAVIF, FormatGIF, FormatTIFF:
		return Format(token)
	default:
		return ""
	}
}

func parseQuality(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 || value > 100 {
		return 0
	}
	return value
}
