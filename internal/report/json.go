package report

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONWriter outputs run reports as indented JSON for tool integration.
type JSONWriter struct {
	baseWriter
}

// NewJSONWriter creates a JSONWriter writing to output.
func NewJSONWriter(output io.Writer) *JSONWriter {
	return &JSONWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write implements Writer.
func (w *JSONWriter) Write(report *RunReport) (int, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	n, err := w.output.Write(data)
	if err != nil {
		return n, fmt.Errorf("write report: %w", err)
	}
	return n, nil
}
