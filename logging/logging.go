// Package logging contains the loggers shared by every netprobe component.
// Logs are emitted in a Docker friendly way.
package logging

import (
	golog "log"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/gorilla/handlers"
)

// Logger is a logger that logs messages on the standard error
// in a structured JSON format, to simplify processing. Emitting logs
// on the standard error is consistent with the standard practices
// when dockerising an Apache or Nginx instance.
var Logger = log.Logger{
	Handler: json.New(os.Stderr),
	Level:   log.DebugLevel,
}

// ForProbe returns a logger that tags every entry with the probe kind
// (e.g. "download", "session") and the probe id.
func ForProbe(kind, id string) *log.Entry {
	return Logger.WithFields(log.Fields{
		"probe": kind,
		"id":    id,
	})
}

// MakeAccessLogHandler wraps |handler| with another handler that logs
// access to each resource on the standard output. Access logs use the
// Apache combined format rather than JSON.
func MakeAccessLogHandler(handler http.Handler) http.Handler {
	return handlers.CombinedLoggingHandler(golog.Writer(), handler)
}
