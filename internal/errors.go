package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks a missing or invalid model path or backend configuration.
	// It disables the affected kind only.
	ErrConfig = errors.New("config error")

	// ErrModelLoad marks a backend initialization failure. Retried with backoff.
	ErrModelLoad = errors.New("model load error")

	// ErrEmbedding marks a per-item inference failure.
	ErrEmbedding = errors.New("embedding error")

	// ErrIndex marks malformed index parameters. Never retried.
	ErrIndex = errors.New("index error")

	// ErrSearch marks invalid search input.
	ErrSearch = errors.New("search error")
)

var (
	ErrUnsupportedKind  = fmt.Errorf("%w: unsupported kind", ErrConfig)
	ErrCorruptNamespace = fmt.Errorf("%w: corrupt namespace", ErrIndex)
	ErrNoRemote         = fmt.Errorf("%w: local inference disabled and no remote backend configured", ErrConfig)
)

// Failure records why a single memory could not be embedded or indexed.
type Failure struct {
	ID  ID
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.ID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

func embeddingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEmbedding, fmt.Sprintf(format, args...))
}

func indexErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndex, fmt.Sprintf(format, args...))
}
