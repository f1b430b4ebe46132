package dispatch

import "errors"

// ErrInsufficientResources is returned by Executor.Submit when the executor
// cannot take the run right now. The dispatcher always retries it.
var ErrInsufficientResources = errors.New("insufficient resources")
