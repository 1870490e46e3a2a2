package jobs

import "errors"

var (
	ErrForbidden          = errors.New("missing required capability")
	ErrNotFound           = errors.New("job not found")
	ErrUnknownJobType     = errors.New("unknown job type")
	ErrPreviewUnsupported = errors.New("job type does not support preview")
	ErrShuttingDown       = errors.New("engine is shutting down")
)

// ErrSensorNotFound is returned when a referenced sensor is not in the catalog.
var ErrSensorNotFound = errors.New("sensor not found")
