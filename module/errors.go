package module

import "errors"

var (
	ErrEventQueueFull = errors.New("module event queue full")
	ErrNotStoppable   = errors.New("procedure does not support stop")
	ErrAlreadyRunning = errors.New("module already running")
)
