package commcore

import (
	"os"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("")
var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`%{color}commcore ▶ %{message}%{color:reset}`,
)

//	SetupLogging configures the backend of the package-level logger and
//	returns it. Most components do not call op/go-logging themselves;
//	they log through the Interpreter capability set's LogWarning,
//	LogSevere and LogFine (see interpreter.go), so tests can inject
//	their own. lifecycle.New and commcore.RecoverToLog take the
//	*logging.Logger directly.
func SetupLogging(prefix string, defaultLogLevel logging.Level, trySyslog bool) *logging.Logger {
	var backend logging.Backend
	if trySyslog {
		backend = GetSyslogBackend(prefix)
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}
	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("COMMCORE_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, prefix)
	case "ERROR":
		leveled.SetLevel(logging.ERROR, prefix)
	case "WARNING":
		leveled.SetLevel(logging.WARNING, prefix)
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, prefix)
	case "INFO":
		leveled.SetLevel(logging.INFO, prefix)
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, prefix)
	default:
		leveled.SetLevel(defaultLogLevel, prefix)
	}

	logging.SetBackend(leveled)
	return log
}

//	Log is the shared package logger. Components that are constructed
//	directly by tests rather than through SetupLogging still have a
//	usable (if unconfigured) logger to write to.
func Log() *logging.Logger {
	return log
}
