package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/config"
	"github.com/shotpipe/shotpipe-agent/internal/db"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/metadata"
	"github.com/shotpipe/shotpipe-agent/internal/naming"
	"github.com/shotpipe/shotpipe-agent/internal/preview"
	"github.com/shotpipe/shotpipe-agent/internal/processor"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
	"github.com/shotpipe/shotpipe-agent/internal/tasks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testAPI struct {
	srv     *httptest.Server
	repo    catalog.Repository
	service *jobs.Service
	runner  *jobs.Runner
	token   string
	root    string
	output  string
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	cfg.Shotgrid.DefaultProject = "DEMO"
	logger := testLogger()
	repo := catalog.NewRepository(database.Conn())
	classifier := catalog.NewClassifier(cfg.FileProcessing.SupportedImageExtensions, cfg.FileProcessing.SupportedVideoExtensions)
	history := catalog.NewHistory(repo, logger)
	assigner := tasks.NewAssigner(classifier, cfg.FileProcessing.TaskMapping)
	names := naming.NewManager(naming.NewResolver(cfg.Naming), assigner, logger)
	proc := processor.New(metadata.NewExtractor(classifier, nil, logger), assigner, names, history, logger)

	settings := jobs.SettingsFromConfig(cfg)
	settings.BatchFolders = false
	service := jobs.NewService(repo, catalog.NewScanner(classifier, history, cfg.Naming.ProjectCodes, logger), proc, names, nil, settings, logger)
	runner := jobs.NewRunner(service, repo, time.Hour, logger)

	token, err := EnsureToken(context.Background(), repo)
	if err != nil {
		t.Fatalf("EnsureToken() error = %v", err)
	}

	stub := shotgrid.NewStubClient(logger)
	entities := shotgrid.NewEntityManager(stub, logger)
	router := NewRouter(ServerConfig{
		Repository:     repo,
		History:        history,
		Service:        service,
		Runner:         runner,
		Preview:        preview.NewServer(logger),
		Shotgrid:       stub,
		Links:          shotgrid.NewLinkManager(stub, entities, logger),
		DefaultProject: "DEMO",
		Version:        "test",
		Logger:         logger,
		StartTime:      time.Now(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	a := &testAPI{
		srv:     srv,
		repo:    repo,
		service: service,
		runner:  runner,
		token:   token,
		root:    t.TempDir(),
		output:  filepath.Join(t.TempDir(), "out"),
	}
	for _, name := range []string{"a_raw.png", "b_raw.png"} {
		if err := os.WriteFile(filepath.Join(a.root, name), []byte("pixels of "+name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return a
}

// processedBatch runs a batch synchronously and returns it.
func (a *testAPI) processedBatch(t *testing.T) *catalog.Batch {
	t.Helper()
	ctx := context.Background()
	b, err := a.service.CreateBatch(ctx, jobs.BatchRequest{Root: a.root, OutputDir: a.output, Sequence: "KIAP"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.service.RunBatch(ctx, b, jobs.Hooks{}); err != nil {
		t.Fatal(err)
	}
	return b
}

func (a *testAPI) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
