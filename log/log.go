package log

import (
	"io"
	"log"
	"os"
)

var (
	Trace   *log.Logger
	Info    *log.Logger
	Warning *log.Logger
	Error   *log.Logger
)

func init() {
	InitLog()
}

// InitLog (re)creates the package loggers. Trace output is only enabled
// when INKCORE_TRACE=1, Info when INKCORE_QUIET is unset.
func InitLog() {
	var trace io.Writer = io.Discard
	if os.Getenv("INKCORE_TRACE") == "1" {
		trace = os.Stderr
	}

	var info io.Writer = os.Stderr
	if os.Getenv("INKCORE_QUIET") == "1" {
		info = io.Discard
	}

	Trace = log.New(trace, "TRACE: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(info, "INFO: ", log.Ldate|log.Ltime)
	Warning = log.New(os.Stderr, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// SetOutput redirects every logger, used by tests and the server mode.
func SetOutput(w io.Writer) {
	Trace.SetOutput(w)
	Info.SetOutput(w)
	Warning.SetOutput(w)
	Error.SetOutput(w)
}
