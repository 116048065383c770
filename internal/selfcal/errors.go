package selfcal

import "errors"

// Configuration errors. Constructors wrap one of these so callers can test
// with errors.Is.
var (
	ErrNilImager                 = errors.New("imager is required")
	ErrNilToolkit                = errors.New("casa toolkit is required")
	ErrEmptyVisfile              = errors.New("visfile is required")
	ErrNoSolint                  = errors.New("at least one solint is required")
	ErrInvalidOption             = errors.New("invalid option")
	ErrVarchangeLength           = errors.New("override list length does not match solint")
	ErrUnknownVarchange          = errors.New("unknown override parameter")
	ErrCaltableNotFound          = errors.New("input caltable not found")
	ErrMissingChainInput         = errors.New("amplitude calibration needs a previous stage or an input caltable")
	ErrSubtractSourcePhaseCenter = errors.New("subtract_source needs the imager phasecenter set")
)

// Run-time errors.
var (
	ErrAlreadyRun   = errors.New("stage has already run")
	ErrNotRun       = errors.New("stage has not run")
	ErrOutputExists = errors.New("output dataset already exists")
)
