package ai

import "errors"

var (
	// ErrEmptyResponse is returned when a model answers without any content.
	ErrEmptyResponse = errors.New("model returned an empty response")
)
