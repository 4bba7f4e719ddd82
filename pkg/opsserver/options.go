package opsserver

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

type Option func(*Server)

// WithLogger sets the logger used for lifecycle and probe failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer exposes the given gatherer on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithCheck adds a named readiness probe served on /readyz.
func WithCheck(name string, c Check) Option {
	if c == nil {
		panic("WithCheck: nil check")
	}
	return func(s *Server) {
		s.checks = append(s.checks, namedCheck{name: name, check: c})
	}
}
