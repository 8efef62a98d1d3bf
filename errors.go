package airlock

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// UpstreamError is returned when the listings service cannot be reached,
// answers with a non-2xx status or returns a body that cannot be decoded.
type UpstreamError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Extensions is picked up by the GraphQL executor and added to the error
// entry of the response.
func (e *UpstreamError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{
		"code": "UPSTREAM_ERROR",
	}
	if e.StatusCode != 0 {
		ext["status"] = e.StatusCode
	}
	if e.URL != "" {
		ext["url"] = e.URL
	}
	return ext
}

// NotFoundError is returned when the listings service answers 404 to a
// single resource lookup.
type NotFoundError struct {
	Resource string
	ID       string
	URL      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Extensions() map[string]interface{} {
	return map[string]interface{}{
		"code": "NOT_FOUND",
		"url":  e.URL,
	}
}

// StartupError is a fatal error raised while configuring or starting the
// gateway.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed during %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
