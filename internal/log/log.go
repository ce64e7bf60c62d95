// Package log defines an interface for the engine to report what is
// happening on each stage, decoupled from any concrete logging library.
package log

// Logger contains all log actions that the engine can do.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop discards every log line. Useful in tests that don't care about
// logging output.
type Nop struct{}

func (Nop) Debug(args ...interface{})                 {}
func (Nop) Debugf(format string, args ...interface{}) {}
func (Nop) Info(args ...interface{})                  {}
func (Nop) Infof(format string, args ...interface{})  {}
func (Nop) Warnf(format string, args ...interface{})  {}
func (Nop) Errorf(format string, args ...interface{}) {}
