package httpserver

import (
	"context"
	"log/slog"
	"time"
)

type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Option configures the HTTP server.
type Option func(*Server)

// WithConfig applies the non-zero fields of cfg.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		if cfg.Addr != "" {
			s.srv.Addr = cfg.Addr
		}
		if cfg.ReadTimeout > 0 {
			s.srv.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			s.srv.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.IdleTimeout > 0 {
			s.srv.IdleTimeout = cfg.IdleTimeout
		}
		if cfg.ShutdownTimeout > 0 {
			s.shutdownTimeout = cfg.ShutdownTimeout
		}
	}
}

func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.srv.Addr = addr
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger sets the server logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownHook registers fn to run after the listener stops accepting
// requests, within the shutdown deadline. Hooks run in registration order.
func WithShutdownHook(fn func(context.Context) error) Option {
	return func(s *Server) {
		if fn != nil {
			s.shutdownHooks = append(s.shutdownHooks, fn)
		}
	}
}
