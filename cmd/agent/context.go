package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/config"
	"github.com/shotpipe/shotpipe-agent/internal/db"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/logging"
	"github.com/shotpipe/shotpipe-agent/internal/metadata"
	"github.com/shotpipe/shotpipe-agent/internal/naming"
	"github.com/shotpipe/shotpipe-agent/internal/processor"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
	"github.com/shotpipe/shotpipe-agent/internal/tasks"
)

var errShotgridNotConfigured = errors.New("shotgrid credentials not configured; set server_url, script_name and api_key or " +
	config.EnvShotgridURL + ", " + config.EnvShotgridScriptName + " and " + config.EnvShotgridAPIKey)

type commandContext struct {
	configFlag  *string
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
			c.configErr = fmt.Errorf("create data dir: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger logs to stderr so command output on stdout stays parseable.
func (c *commandContext) cliLogger(cmd *cobra.Command) *slog.Logger {
	level := "warn"
	if c.verboseFlag != nil && *c.verboseFlag {
		level = "debug"
	}
	return logging.NewLoggerTo(cmd.ErrOrStderr(), level, "text")
}

// withStack opens the database and builds the processing stack for one
// command.
func (c *commandContext) withStack(cmd *cobra.Command, fn func(*stack) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := newStack(cfg, c.cliLogger(cmd))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// stack is every component a command or the agent may need, wired from one
// configuration.
type stack struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB

	repo       *catalog.SQLiteRepository
	history    *catalog.History
	classifier *catalog.Classifier
	scanner    *catalog.Scanner
	resolver   *naming.Resolver
	assigner   *tasks.Assigner
	names      *naming.Manager
	service    *jobs.Service

	client   shotgrid.Client
	entities *shotgrid.EntityManager
	links    *shotgrid.LinkManager
	uploader *shotgrid.Uploader
}

func newStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	st := &stack{cfg: cfg, logger: logger, db: database}
	st.repo = catalog.NewRepository(database.Conn())
	st.history = catalog.NewHistory(st.repo, logging.WithComponent(logger, "history"))
	st.classifier = catalog.NewClassifier(cfg.FileProcessing.SupportedImageExtensions, cfg.FileProcessing.SupportedVideoExtensions)
	st.scanner = catalog.NewScanner(st.classifier, st.history, cfg.Naming.ProjectCodes, logging.WithComponent(logger, "scanner"))
	st.resolver = naming.NewResolver(cfg.Naming)
	st.assigner = tasks.NewAssigner(st.classifier, cfg.FileProcessing.TaskMapping)
	st.names = naming.NewManager(st.resolver, st.assigner, logger)

	prober := metadata.NewProber(cfg.FileProcessing.FFprobePath, cfg.FFprobeTimeout(), logger)
	extractor := metadata.NewExtractor(st.classifier, prober, logging.WithComponent(logger, "metadata"))
	proc := processor.New(extractor, st.assigner, st.names, st.history, logging.WithComponent(logger, "processor"))

	sgLogger := logging.WithComponent(logger, "shotgrid")
	st.client = shotgrid.NewClient(cfg.Shotgrid, cfg.Shotgrid.TimeoutSeconds, sgLogger)
	st.entities = shotgrid.NewEntityManager(st.client, sgLogger)
	st.links = shotgrid.NewLinkManager(st.client, st.entities, sgLogger)
	if cfg.ShotgridConfigured() {
		st.uploader = shotgrid.NewUploader(st.client, st.entities, st.links, st.repo, sgLogger)
	}

	st.service = jobs.NewService(st.repo, st.scanner, proc, st.names, st.uploader, jobs.SettingsFromConfig(cfg), logging.WithComponent(logger, "jobs"))
	return st, nil
}

// requireShotgrid connects the client or explains why it cannot.
func (s *stack) requireShotgrid(cmd *cobra.Command) error {
	if !s.cfg.ShotgridConfigured() {
		return errShotgridNotConfigured
	}
	if err := s.client.Connect(cmd.Context()); err != nil {
		return fmt.Errorf("connect to shotgrid %s: %w", s.cfg.Shotgrid.ServerURL, err)
	}
	return nil
}

func (s *stack) Close() error {
	return s.db.Close()
}
