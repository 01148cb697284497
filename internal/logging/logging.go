package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Named loggers, one per component.
var (
	Core *logrus.Entry
	SIP  *logrus.Entry
	API  *logrus.Entry
	Hass *logrus.Entry

	logFile *lumberjack.Logger
)

// Init configures the named loggers from the [logging] section. Console
// and file output have independent minimum levels; the file is rotated.
func Init(cfg *ini.File) error {
	sec := cfg.Section("logging")

	consoleMin := toLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLevel(sec.Key("file_min_level").MustInt(0))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("sip2ha.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 1,
	}

	Core = newLogger("core", toLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, logFile)
	SIP = newLogger("sip", toLevel(sec.Key("sip").MustInt(2)), consoleMin, fileMin, logFile)
	API = newLogger("api", toLevel(sec.Key("api").MustInt(2)), consoleMin, fileMin, logFile)
	Hass = newLogger("hass", toLevel(sec.Key("hass").MustInt(2)), consoleMin, fileMin, logFile)
	return nil
}

// Close flushes and closes the log file.
func Close() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes entries to one writer for the listed levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, file io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(consoleMin)})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin)})
	return logger.WithField("prefix", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}
