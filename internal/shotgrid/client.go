// Package shotgrid talks to the Shotgrid REST API: entity lookup and
// creation, Version/PublishedFile publishing with media upload, and links
// back to the web UI.
package shotgrid

import (
	"context"
	"log/slog"

	"github.com/shotpipe/shotpipe-agent/internal/config"
)

// Client is the transport used by the managers.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	TestConnection(ctx context.Context) error
	UpdateCredentials(serverURL, scriptName, apiKey string)
	ServerURL() string

	Find(ctx context.Context, entityType string, q Query) ([]Entity, error)
	Create(ctx context.Context, entityType string, attrs map[string]any) (*Entity, error)
	Update(ctx context.Context, entityType string, id int, attrs map[string]any) (*Entity, error)
	Upload(ctx context.Context, entityType string, id int, field, path string) error
}

// NewClient returns an HTTPClient when credentials are present and a
// StubClient otherwise.
func NewClient(cfg config.ShotgridConfig, timeoutSeconds int, logger *slog.Logger) Client {
	if cfg.ServerURL == "" || cfg.ScriptName == "" || cfg.APIKey == "" {
		logger.Warn("shotgrid credentials missing, running disconnected")
		return NewStubClient(logger)
	}
	return NewHTTPClient(cfg.ServerURL, cfg.ScriptName, cfg.APIKey, cfg.UploadChunkSize, timeoutSeconds, logger)
}

// StubClient stands in when no credentials are configured. Reads return
// nothing and mutations fail with a *RemoteConnectionError.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (s *StubClient) notConfigured(op string) error {
	return &RemoteConnectionError{Op: op, Err: ErrNotConfigured}
}

func (s *StubClient) Connect(ctx context.Context) error {
	return s.notConfigured("connect")
}

func (s *StubClient) IsConnected() bool {
	return false
}

func (s *StubClient) TestConnection(ctx context.Context) error {
	return s.notConfigured("test connection")
}

func (s *StubClient) UpdateCredentials(serverURL, scriptName, apiKey string) {
	s.logger.Info("shotgrid stub: credentials update ignored, restart to connect", "server", serverURL)
}

func (s *StubClient) ServerURL() string {
	return ""
}

func (s *StubClient) Find(ctx context.Context, entityType string, q Query) ([]Entity, error) {
	s.logger.Debug("shotgrid stub: find requested", "entity", entityType)
	return nil, nil
}

func (s *StubClient) Create(ctx context.Context, entityType string, attrs map[string]any) (*Entity, error) {
	return nil, s.notConfigured("create " + entityType)
}

func (s *StubClient) Update(ctx context.Context, entityType string, id int, attrs map[string]any) (*Entity, error) {
	return nil, s.notConfigured("update " + entityType)
}

func (s *StubClient) Upload(ctx context.Context, entityType string, id int, field, path string) error {
	return s.notConfigured("upload " + entityType)
}
