// +build windows

package commcore

import (
	"github.com/op/go-logging"
)

//	GetSyslogBackend has no Windows equivalent (log/syslog is unix-only);
//	SetupLogging falls back to the stderr backend when this returns nil.
func GetSyslogBackend(prefix string) logging.Backend {
	return nil
}
