// Package kadlog is the ambient logging seam shared by every component
// package. It wraps go.uber.org/zap the way the rest of the example pack
// wraps it (go-log sits on top of zap for the same reason): one named
// sugared logger per component, configurable once at process start.
package kadlog

import "go.uber.org/zap"

var base = mustBuild()

func mustBuild() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder config; fall back
		// to a logger that still works rather than panicking a library caller.
		l = zap.NewNop()
	}
	return l
}

// Named returns a sugared logger scoped to component, e.g. kadlog.Named("rtable").
func Named(component string) *zap.SugaredLogger {
	return base.Named(component).Sugar()
}

// SetCore lets a host process swap in its own zap.Logger (different
// encoding, level, sinks) before constructing any DHT components.
func SetCore(l *zap.Logger) {
	if l != nil {
		base = l
	}
}
