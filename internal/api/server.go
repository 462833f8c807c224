package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/preview"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Repository catalog.Repository
	History    *catalog.History
	Service    *jobs.Service
	Runner     *jobs.Runner
	Preview    *preview.Server

	// Shotgrid may be a StubClient when credentials are missing.
	Shotgrid           shotgrid.Client
	Links              *shotgrid.LinkManager
	ShotgridConfigured bool
	DefaultProject     string

	Version   string
	Logger    *slog.Logger
	StartTime time.Time
}

// NewServer binds to the loopback interface only. WriteTimeout stays zero
// so long media previews are not cut off.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)),
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		logger: cfg.Logger,
	}
}

// Start serves until Shutdown. A closed server is not an error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("local API listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("local API shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
