package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dunamismax/pixelgate/internal/fetch"
	"github.com/dunamismax/pixelgate/internal/params"
)

var (
	// ErrForbiddenHost means the Host header failed the allow-list check on
	// the path-based route. Raised before any network call.
	ErrForbiddenHost = errors.New("host is not allowed")

	// ErrInvalidPath means the request path does not match the expected
	// five-segment object shape.
	ErrInvalidPath = errors.New("invalid object path")

	errTransformFailed = errors.New("image transform failed")
)

// statusForError maps the failure taxonomy onto client-facing statuses.
// Upstream non-success statuses surface their text in the body but the outer
// status is fixed at 400; anything unanticipated is a generic 500.
func statusForError(err error) (int, string) {
	var statusErr *fetch.StatusError

	switch {
	case errors.Is(err, params.ErrMissingParameter):
		return http.StatusBadRequest, "missing required url parameter"
	case errors.Is(err, params.ErrInvalidURL):
		return http.StatusBadRequest, "invalid source url"
	case errors.Is(err, params.ErrUnsupportedScheme):
		return http.StatusBadRequest, "unsupported source url scheme"
	case errors.Is(err, ErrInvalidPath):
		return http.StatusBadRequest, "invalid object path"
	case errors.Is(err, ErrForbiddenHost):
		return http.StatusForbidden, "host is not allowed"
	case errors.Is(err, fetch.ErrTimeout):
		return http.StatusGatewayTimeout, "upstream fetch timed out"
	case errors.Is(err, fetch.ErrUnreachable):
		return http.StatusBadGateway, "upstream unreachable"
	case errors.As(err, &statusErr):
		return http.StatusBadRequest, fmt.Sprintf("upstream responded with %s", statusErr.Status)
	case errors.Is(err, errTransformFailed):
		return http.StatusInternalServerError, "image transform failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
