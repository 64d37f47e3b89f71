package llm

import (
	"errors"
	"strings"
	"syscall"
)

type InitErrorKind int

const (
	InitOther InitErrorKind = iota
	InitConnectionRefused
	InitModelNotFound
)

func (k InitErrorKind) String() string {
	switch k {
	case InitConnectionRefused:
		return "connection refused"
	case InitModelNotFound:
		return "model not found"
	default:
		return "other"
	}
}

// InitError is a fatal failure to bring the model up.
type InitError struct {
	Kind InitErrorKind
	Err  error
}

func (e *InitError) Error() string {
	return "failed to initialize model (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *InitError) Unwrap() error { return e.Err }

func ClassifyInitError(err error) InitErrorKind {
	if err == nil {
		return InitOther
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return InitConnectionRefused
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused"):
		return InitConnectionRefused
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unknown"):
		return InitModelNotFound
	default:
		return InitOther
	}
}
