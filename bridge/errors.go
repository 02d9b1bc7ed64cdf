package bridge

import "errors"

var (
	ErrSlotUsed   = errors.New("slot already used")
	ErrSlotClosed = errors.New("slot closed")

	// ErrAborted is reported by a run whose abort sequence has started.
	ErrAborted = errors.New("optimization aborted")

	// ErrNotRenewed is returned by Start when the current slot pair has
	// already carried a sample.
	ErrNotRenewed = errors.New("slots not renewed since last evaluation")

	ErrWorkerRunning = errors.New("optimizer worker already running")

	// ErrFeedbackPending is returned by Renew while a published sample still
	// awaits its feedback.
	ErrFeedbackPending = errors.New("feedback pending for published sample")

	ErrNoPendingSample = errors.New("no sample awaiting feedback")
	ErrAbortTimeout    = errors.New("optimizer worker did not terminate within timeout")
	ErrNotConverged    = errors.New("minimizer did not converge")
	ErrMinimizerPanic  = errors.New("minimizer panicked")
)
