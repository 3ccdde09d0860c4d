// Package log builds the loggers used by pipeline nodes.
package log

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

var debug bool

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("FAST_DEBUG"))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger instance
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Config describes the logger output.
type Config struct {
	// Level is a logrus level name. Empty means info, or debug when
	// FAST_DEBUG is set.
	Level string
	// Format is either "text" or "json".
	Format string
	// File enables rotating file output in addition to stderr.
	File         string
	MaxAge       time.Duration
	RotationTime time.Duration
}

// New returns a logger configured by c. The returned closer releases the
// log file and must be called when the logger is no longer used.
func New(c Config) (*logrus.Logger, io.Closer, error) {
	l := GetLogger()
	if c.Level != "" {
		level, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		l.SetLevel(level)
	}

	switch c.Format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05.999"})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", c.Format)
	}

	if c.File == "" {
		return l, nopCloser{}, nil
	}
	opts := []rotatelogs.Option{rotatelogs.WithLinkName(c.File)}
	if c.MaxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(c.MaxAge))
	}
	if c.RotationTime > 0 {
		opts = append(opts, rotatelogs.WithRotationTime(c.RotationTime))
	}
	w, err := rotatelogs.New(c.File+".%Y%m%d", opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating log file: %w", err)
	}
	l.SetOutput(io.MultiWriter(os.Stderr, w))
	return l, w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
