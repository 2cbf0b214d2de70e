package probe

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors.
var (
	// ErrUnexpectedStatus indicates a response code outside the expected set.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")

	// ErrQuery indicates a jq expression that failed to compile, run, or
	// produce a value of the requested type.
	ErrQuery = errors.New("jq query failed")

	// ErrInvalidConfig indicates an unusable client configuration.
	ErrInvalidConfig = errors.New("invalid RESTCONF client configuration")
)

// maxErrorBody bounds the response body quoted in a StatusError.
const maxErrorBody = 512

// StatusError reports a response with an unexpected status code.
type StatusError struct {
	Method string
	URL    string
	Status int
	Want   []int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("%s %s: status %d, expected %v: %s", e.Method, e.URL, e.Status, e.Want, body)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

func expected(status int, want []int) bool {
	return len(want) == 0 || slices.Contains(want, status)
}
