package xlog

// discard is a no-op Logger, used as the default when no logger option
// is supplied.
type discard struct{}

// Discard returns a Logger that drops every message. Useful as a safe
// default and in tests that don't care about log output.
func Discard() Logger {
	return discard{}
}

func (discard) Debug(...interface{})            {}
func (discard) Debugf(string, ...interface{})   {}
func (discard) Info(...interface{})             {}
func (discard) Infof(string, ...interface{})    {}
func (discard) Warning(...interface{})          {}
func (discard) Warningf(string, ...interface{}) {}
func (discard) Error(...interface{})            {}
func (discard) Errorf(string, ...interface{})   {}

func (d discard) WithFields(Fields) Logger              { return d }
func (d discard) WithField(string, interface{}) Logger { return d }
