package internal

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// NewLogger builds the structured logger shared by the engine components.
func NewLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("%w: log level: %v", ErrConfig, err)
		}
		lvl = parsed
	}

	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "mem",
		ReportTimestamp: true,
	}), nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}
