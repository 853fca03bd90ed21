// Package logging adapts a *zap.SugaredLogger to flock.Logger, the
// structured-logging backend the core's Logger interface is meant to
// be implemented against in a real deployment.
package logging

import (
	"go.uber.org/zap"

	"github.com/flockbus/flock"
)

// Zap wraps a *zap.SugaredLogger as a flock.Logger.
type Zap struct {
	s *zap.SugaredLogger
}

// New adapts logger.
func New(logger *zap.Logger) Zap {
	return Zap{s: logger.Sugar()}
}

// Debugf implements flock.Logger.
func (z Zap) Debugf(format string, args ...any) { z.s.Debugf(format, args...) }

// Infof implements flock.Logger.
func (z Zap) Infof(format string, args ...any) { z.s.Infof(format, args...) }

// Warnf implements flock.Logger.
func (z Zap) Warnf(format string, args ...any) { z.s.Warnf(format, args...) }

// Errorf implements flock.Logger.
func (z Zap) Errorf(format string, args ...any) { z.s.Errorf(format, args...) }

var _ flock.Logger = Zap{}
