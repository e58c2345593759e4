package report

import "io"

// Writer outputs a run report to some destination and format.
type Writer interface {
	// Write outputs the report, returning the number of bytes written.
	Write(report *RunReport) (int, error)
}

// MultiWriter writes one report to several Writers, for example terminal
// and file at once. It stops on the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer fanning out to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write implements Writer.
func (m *MultiWriter) Write(report *RunReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter holds the shared output destination.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
