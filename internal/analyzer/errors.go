package analyzer

import "errors"

var (
	// ErrUnparsableLine means no grammar or no timestamp layout matched a line.
	// It never escapes ParseReader or ParseFile; the line is dropped.
	ErrUnparsableLine = errors.New("unparsable log line")

	// ErrUnreadableFile wraps open and read failures of a log file
	ErrUnreadableFile = errors.New("unreadable log file")

	// ErrNoEntries means a file contained no parsable entry
	ErrNoEntries = errors.New("no valid log entries")
)
