package session

import "errors"

var (
	// ErrBusy is returned when Execute is called while another invocation runs.
	ErrBusy = errors.New("command already running")

	// ErrNotFound is returned when the claude executable does not exist.
	ErrNotFound = errors.New("claude executable not found")

	// ErrExited is returned when claude exits non-zero without producing output.
	ErrExited = errors.New("claude exited abnormally")

	// ErrLaunch covers every other spawn or read fault.
	ErrLaunch = errors.New("claude launch failed")
)

const busyMessage = "A command is already running. Wait for it to finish or cancel it."
