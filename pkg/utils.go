package pkg

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog/log"

	dataio "tabprep/pkg/io"
)

type NoopWriter struct{}

func (x NoopWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func printDataErrors(errors []dataio.DataError) {
	for _, err := range errors {
		log.Error().Msgf("Error parsing data at line %d: %s", err.Line, err.Error)
	}
}

// newLogr adapts the process logger for the library packages.
func newLogr(name string) logr.Logger {
	return zerologr.New(&log.Logger).WithName(name)
}
