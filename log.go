package pfresolved

import (
	"io"

	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger. Both the controller and the worker log
// through it; cmd/pfresolved configures its level and output at startup from
// the daemon flags, the way cmd/routedns wires rdns.Log from -log-level.
var Log = logrus.New()

// ConfigureDebugLogging sends logs to stderr at the given verbosity. Used
// when the daemon is started with -d (foreground/debug mode).
func ConfigureDebugLogging(verbose int) {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	Log.SetLevel(verbosity(verbose))
}

// ConfigureSyslogLogging sends logs to the local syslog daemon facility
// LOG_DAEMON, mirroring the original's log_init(debug, LOG_DAEMON) when not
// running in debug mode.
func ConfigureSyslogLogging(tag string, verbose int) error {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_NOTICE, tag)
	if err != nil {
		return err
	}
	Log.SetOutput(io.Discard)
	Log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	Log.SetLevel(verbosity(verbose))
	Log.AddHook(&syslogHook{w: w})
	return nil
}

func verbosity(v int) logrus.Level {
	switch {
	case v >= 2:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// syslogHook forwards logrus entries to a syslog writer at a priority
// derived from the entry's level.
type syslogHook struct {
	w *syslog.Writer
}

func (h *syslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *syslogHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.w.Crit(line)
	case logrus.ErrorLevel:
		return h.w.Err(line)
	case logrus.WarnLevel:
		return h.w.Warning(line)
	case logrus.InfoLevel:
		return h.w.Info(line)
	default:
		return h.w.Debug(line)
	}
}
