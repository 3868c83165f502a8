//go:build logless
// +build logless

package logger

// EmptyLog drops every event; built with the logless tag for constrained
// deployments.
type EmptyLog struct{}

var Log = EmptyLog{}

func (l EmptyLog) Debug() EmptyLog { return l }
func (l EmptyLog) Error() EmptyLog { return l }
func (l EmptyLog) Warn() EmptyLog  { return l }
func (l EmptyLog) Info() EmptyLog  { return l }

func (l EmptyLog) Msg(string) EmptyLog { return l }
func (l EmptyLog) Err(error) EmptyLog  { return l }

func (l EmptyLog) Int(string, int) EmptyLog       { return l }
func (l EmptyLog) Str(string, string) EmptyLog    { return l }
func (l EmptyLog) Float(string, float64) EmptyLog { return l }

// DebugEnabled always reports false in logless builds.
func DebugEnabled() bool { return false }
