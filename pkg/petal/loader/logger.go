package loader

import (
	"fmt"
	"io"
)

// Logger receives loader diagnostics. The default implementation writes
// prefixed lines to a sink; a nop logger is used when no sink is configured.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type writerLogger struct {
	out io.Writer
}

// NewLogger creates a line-oriented logger writing to out.
func NewLogger(out io.Writer) Logger {
	return &writerLogger{out: out}
}

func (l *writerLogger) Infof(format string, args ...any) {
	fmt.Fprintf(l.out, "[LOADER] "+format+"\n", args...)
}

func (l *writerLogger) Errorf(format string, args ...any) {
	fmt.Fprintf(l.out, "[LOADER ERROR] "+format+"\n", args...)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
