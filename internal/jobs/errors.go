package jobs

import "errors"

var (
	ErrInvalidJobKind    = errors.New("invalid job kind")
	ErrInvalidJobStatus  = errors.New("invalid job status")
	ErrInvalidJobPayload = errors.New("invalid job payload")
	ErrUnsupportedFormat = errors.New("unsupported job record format")
)
