package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, TUI).
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ConsoleLogger writes human-readable logs. Info and Debug go to out, Warn and Error to errOut.
type ConsoleLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	errOut io.Writer
	prefix string
	debug  bool
}

func NewConsoleLogger() *ConsoleLogger {
	return NewWriterLogger(os.Stdout, os.Stderr)
}

// NewWriterLogger creates a ConsoleLogger writing to the given streams.
func NewWriterLogger(out, errOut io.Writer) *ConsoleLogger {
	return &ConsoleLogger{mu: &sync.Mutex{}, out: out, errOut: errOut}
}

// SetDebug enables or disables debug output.
func (c *ConsoleLogger) SetDebug(debug bool) *ConsoleLogger {
	c.debug = debug
	return c
}

// WithComponent returns a logger that tags every line with [component].
func (c *ConsoleLogger) WithComponent(component string) *ConsoleLogger {
	clone := *c
	clone.prefix = "[" + component + "] "
	return &clone
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.write(c.out, "[INFO] ", msg, args)
}

func (c *ConsoleLogger) Warn(msg string, args ...interface{}) {
	c.write(c.errOut, "[WARN] ", msg, args)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.write(c.errOut, "[ERROR] ", msg, args)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	if !c.debug {
		return
	}
	c.write(c.out, "[DEBUG] ", msg, args)
}

func (c *ConsoleLogger) write(w io.Writer, level, msg string, args []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, level+c.prefix+msg+"\n", args...)
}

// SilentLogger discards all log messages.
// Used in TUI and MCP modes so log output does not interfere with the display or protocol stream.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
