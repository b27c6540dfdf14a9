package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a user-facing failure
type ErrorKind string

const (
	InvalidFileType           ErrorKind = "invalid_file_type"
	ImageReadFailure          ErrorKind = "image_read_failure"
	NetworkFailure            ErrorKind = "network_failure"
	UnrecognizedResponseShape ErrorKind = "unrecognized_response_shape"
	ImageRenderFailure        ErrorKind = "image_render_failure"
)

var messages = map[ErrorKind]string{
	InvalidFileType:           "Please select a valid image file.",
	ImageReadFailure:          "Failed to read image file.",
	NetworkFailure:            "Failed to analyze image. Please try again.",
	UnrecognizedResponseShape: "Analysis failed. Please try again.",
	ImageRenderFailure:        "Failed to load image preview.",
}

// Message returns the text shown to the user for k
func (k ErrorKind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return "Something went wrong. Please try again."
}

var (
	// ErrInvalidTransition is returned when an event is not accepted in the current state
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStaleResponse is returned when an analysis settles after its request stopped being current
	ErrStaleResponse = errors.New("stale analysis response")
)

// TransitionError describes a rejected event
type TransitionError struct {
	From  Kind
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s in state %s", e.Err, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
