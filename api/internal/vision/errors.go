package vision

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const noTextDetails = "No text in response."

// EmptyResultError is returned when the model answered but there is no usable
// text, usually because the prompt or the candidate was blocked.
type EmptyResultError struct {
	Feedback string
}

func (e *EmptyResultError) Error() string {
	if e.Feedback == "" {
		return "vision: empty result"
	}
	return "vision: empty result: " + e.Feedback
}

// Details is the human readable explanation surfaced to callers.
func (e *EmptyResultError) Details() string {
	if e == nil || strings.TrimSpace(e.Feedback) == "" {
		return noTextDetails
	}
	return "Prompt feedback: " + e.Feedback
}

// AsEmptyResult reports whether err is (or wraps) an EmptyResultError.
func AsEmptyResult(err error) (*EmptyResultError, bool) {
	var er *EmptyResultError
	if errors.As(err, &er) {
		return er, true
	}
	return nil, false
}

// IsQuotaExhausted reports whether err means the caller ran out of quota or
// was rate limited by the upstream API.
func IsQuotaExhausted(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(err.Error(), "ResourceExhausted")
}
