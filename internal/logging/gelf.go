package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON handler shipping records to a Graylog UDP
// input. Close the returned closer on shutdown.
func NewGELFHandler(address, facility, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, nil, fmt.Errorf("connect graylog %s: %w", address, err)
	}
	if facility != "" {
		w.Facility = facility
	}
	return slog.NewJSONHandler(w, handlerOptions(parseLevel(level))), w, nil
}
