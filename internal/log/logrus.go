package log

import "github.com/sirupsen/logrus"

// Logrus adapts a *logrus.Entry to the Logger interface, so every line
// carries whatever fields (run id, part index, backend) the caller attached.
type Logrus struct {
	Entry *logrus.Entry
}

// NewLogrus builds a Logger backed by logrus, tagged with the given run id.
func NewLogrus(base *logrus.Logger, runID string) Logrus {
	return Logrus{Entry: base.WithField("run", runID)}
}

// With returns a derived Logger with an extra field, e.g. a part index.
func (l Logrus) With(key string, value interface{}) Logrus {
	return Logrus{Entry: l.Entry.WithField(key, value)}
}

func (l Logrus) Debug(args ...interface{})                 { l.Entry.Debug(args...) }
func (l Logrus) Debugf(format string, args ...interface{}) { l.Entry.Debugf(format, args...) }
func (l Logrus) Info(args ...interface{})                  { l.Entry.Info(args...) }
func (l Logrus) Infof(format string, args ...interface{})  { l.Entry.Infof(format, args...) }
func (l Logrus) Warnf(format string, args ...interface{})  { l.Entry.Warnf(format, args...) }
func (l Logrus) Errorf(format string, args ...interface{}) { l.Entry.Errorf(format, args...) }
