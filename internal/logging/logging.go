// Package logging wires the two loggers the room runtime uses, mirroring
// the teacher's core/storage.go: logrus for request/command-scoped
// structured fields (the way walletserver/middleware.Logger formats access
// logs), and zap for the hot path (room load/save/lock/broadcast) where
// allocation-light structured logging matters.
package logging

import (
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// NewAccessLogger returns a logrus.Logger configured for JSON, command-level
// logging (hub requests, admin CLI actions).
func NewAccessLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	return l
}

// NewRuntimeLogger returns a zap.Logger for the room runtime's hot path.
func NewRuntimeLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// MustRuntimeLogger is NewRuntimeLogger but panics on failure, for use at
// process startup where a logger is a hard prerequisite.
func MustRuntimeLogger() *zap.Logger {
	l, err := NewRuntimeLogger()
	if err != nil {
		panic(err)
	}
	return l
}
