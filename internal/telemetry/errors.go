package telemetry

import "errors"

var (
	// ErrInvalidPayload is returned by ingress handlers for a payload that
	// does not parse as the expected value.
	ErrInvalidPayload = errors.New("telemetry: invalid payload")

	// ErrUnknownTopic is returned for a command topic outside the tree.
	ErrUnknownTopic = errors.New("telemetry: unknown topic")

	// ErrNoSource is returned when a publisher is built without a source.
	ErrNoSource = errors.New("telemetry: source is required")
)
