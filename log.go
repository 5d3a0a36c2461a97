package scp

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger is used whenever a caller does not supply Config.Logger, so
// the library never forces output on a silent embedder.
func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
