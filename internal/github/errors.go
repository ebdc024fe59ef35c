package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"boltrunner/pkg/api"
)

// ErrMissingToken is returned by NewClient when no bearer token is configured.
var ErrMissingToken = errors.New("github token is required (env: GITHUB_TOKEN)")

// ErrorKind classifies a failed GitHub call.
type ErrorKind string

const (
	// KindTransport means the request never produced a response.
	KindTransport ErrorKind = "transport"
	// KindAPI means GitHub answered with an unexpected status code.
	KindAPI ErrorKind = "api"
	// KindDecode means the response body could not be parsed.
	KindDecode ErrorKind = "decode"
	// KindIO means a local filesystem write failed.
	KindIO ErrorKind = "io"
)

// Error is the single error type returned by Client operations.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s error (%d): %s", e.Op, e.Kind, e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Detail)
	}
}

// newAPIError builds a KindAPI error from a non-success response. GitHub's
// message field is preferred over the raw body when present.
func newAPIError(op string, statusCode int, body []byte) *Error {
	detail := strings.TrimSpace(string(body))
	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		detail = errResp.Message
	}
	return &Error{Kind: KindAPI, Op: op, StatusCode: statusCode, Detail: detail}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ghErr *Error
	return errors.As(err, &ghErr) && ghErr.Kind == kind
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ghErr *Error
	if errors.As(err, &ghErr) {
		return ghErr.StatusCode
	}
	return 0
}
