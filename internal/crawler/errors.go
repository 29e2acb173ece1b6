package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChannelNotFound means a handle did not resolve to a channel.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrNoAPIKey means no credential is stored or configured.
	ErrNoAPIKey = errors.New("no api key configured")
	// ErrRunInProgress means another crawl run holds the process.
	ErrRunInProgress = errors.New("crawl run already in progress")
)

// RequestError is a failed call to the video source.
type RequestError struct {
	Op         string
	StatusCode int
	Reason     string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Reason != "":
		return fmt.Sprintf("%s: status %d (%s): %v", e.Op, e.StatusCode, e.Reason, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
