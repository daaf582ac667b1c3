package capture

import (
	"context"
	"errors"
	"strings"
)

// Class is the recovery class of a capture error.
type Class int

const (
	// Terminal errors end the job.
	Terminal Class = iota
	// Transient errors are worth a reconnect on live jobs.
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "terminal"
}

// transientSignatures are matched case-insensitively against the error text,
// which for engine exits includes the tail of its stderr.
var transientSignatures = []string{
	"connection",  // Connection refused/reset/timed out
	"timeout",     // I/O timeout option tripped
	"timed out",   // Operation timed out
	"end of file", // IO error: End of file
}

// Classify maps a capture error to Transient or Terminal.
func Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return Terminal
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return Transient
		}
	}
	return Terminal
}
