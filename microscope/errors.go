package microscope

import "errors"

var (
	// ErrBusy is returned by a start event while a procedure is running.
	ErrBusy = errors.New("microscope busy")

	ErrNoPositions = errors.New("no positions given")

	// ErrNoCorrelator is returned by StartCorrelation when the photon
	// counter cannot acquire correlation histograms.
	ErrNoCorrelator = errors.New("photon counter has no correlator")
)
