package pipeline

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrRunInProgress is returned when Run is called while another run on the
// same Pipeline has not finished.
var ErrRunInProgress = eris.New("pipeline: run already in progress")

// UpstreamFetchError is a failed Overpass fetch. It aborts the run and the
// previous snapshot is left untouched.
type UpstreamFetchError struct {
	Err error
}

func (e *UpstreamFetchError) Error() string {
	return "pipeline: upstream fetch failed: " + e.Err.Error()
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// IsUpstreamFetchError reports whether err wraps an UpstreamFetchError.
func IsUpstreamFetchError(err error) bool {
	var ue *UpstreamFetchError
	return errors.As(err, &ue)
}
