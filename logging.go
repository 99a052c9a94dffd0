package main

import (
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// setupLogging sets the level and, when path is set, copies the console
// output to a daily rotated file
func setupLogging(level, path string, debug bool) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	if debug {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
	if path == "" {
		return nil
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationSize(64*1024*1024),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return errors.Wrap(err, "rotating log")
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	return nil
}
