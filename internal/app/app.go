package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dsda-uploader/internal/archiveapi"
	"dsda-uploader/internal/cache"
	"dsda-uploader/internal/config"
	"dsda-uploader/internal/database"
	"dsda-uploader/internal/demo"
	"dsda-uploader/internal/idgames"
	"dsda-uploader/internal/registry"
	"dsda-uploader/internal/replay"
	"dsda-uploader/internal/secrets"
)

// Options are the interactive collaborators supplied by the CLI.
type Options struct {
	// Prompter is asked when the asset cascade finds nothing. Nil leaves the
	// asset unresolved.
	Prompter demo.AssetPrompter
	// Passphrase unlocks the encrypted credentials file.
	Passphrase func() (string, error)
	// Verbose logs debug records.
	Verbose bool
}

// DsdaApp is the application layer between the CLI and the demo pipeline.
// It constructs all dependencies from config, hands out Sessions, and owns
// the history database and log file until Close.
type DsdaApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	cache     demo.AssetCache
	resolver  *demo.AssetResolver
	analyzer  *demo.Analyzer
	submitter *demo.SubmissionManager
	policy    demo.Policy
	opts      Options
	logger    demo.Logger
	clock     demo.Clock
	ids       demo.IDGenerator
	op        *Operation
	logFile   *os.File
}

// NewDsdaApp creates a fully wired DsdaApp from the given config.
// operation identifies the CLI command being run (e.g. "process", "correct").
// The caller must call Close when done.
func NewDsdaApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*DsdaApp, error) {
	clock := demo.RealClock{}
	op := NewOperation(operation, "", clock.Now())

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	policy, err := PolicyFromConfig(cfg.Validation)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	assetCache, err := cache.NewCacheFromConfig(ctx, cfg.Cache)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating asset cache: %w", err)
	}

	engine, err := replay.New(cfg.Replay.Binary, iwadPath(cfg.Replay),
		replay.WithExtraArgs(cfg.Replay.ExtraArgs...),
		replay.WithLogger(logger))
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating replay engine: %w", err)
	}

	a := &DsdaApp{
		cfg:      cfg,
		db:       db,
		cache:    assetCache,
		analyzer: demo.NewAnalyzer(engine, logger, ""),
		policy:   policy,
		opts:     opts,
		logger:   logger,
		clock:    clock,
		ids:      demo.UUIDGenerator{},
		op:       op,
		logFile:  logFile,
	}
	a.resolver = demo.NewAssetResolver(assetCache, a.registryLocator(), a.indexLocator(), opts.Prompter, logger)

	logger.Info("operation started", "command", operation)
	return a, nil
}

// PolicyFromConfig builds the validation policy. Empty settings keep the
// archive defaults.
func PolicyFromConfig(cfg config.ValidationConfig) (demo.Policy, error) {
	p := demo.DefaultPolicy()
	if cfg.EpochCutoff != "" {
		cutoff, err := time.Parse(demo.DateLayout, cfg.EpochCutoff)
		if err != nil {
			return demo.Policy{}, fmt.Errorf("invalid validation.epoch_cutoff %q: %w", cfg.EpochCutoff, err)
		}
		p.EpochCutoff = cutoff
	}
	if len(cfg.RequiredFields) > 0 {
		p.Required = nil
		for _, name := range cfg.RequiredFields {
			f, err := demo.ParseFieldID(name)
			if err != nil {
				return demo.Policy{}, fmt.Errorf("validation.required_fields: %w", err)
			}
			p.Required = append(p.Required, f)
		}
	}
	return p, nil
}

func iwadPath(cfg config.ReplayConfig) string {
	if cfg.IWAD == "" || filepath.IsAbs(cfg.IWAD) || cfg.IWADDir == "" {
		return cfg.IWAD
	}
	return filepath.Join(cfg.IWADDir, cfg.IWAD)
}

func (a *DsdaApp) registryLocator() demo.AssetLocator {
	if !a.cfg.Registry.Enabled {
		return nil
	}
	return registry.NewClient(a.cfg.Registry.BaseURL, registry.WithRateLimit(a.cfg.Registry.RequestsPerSecond))
}

func (a *DsdaApp) indexLocator() demo.AssetLocator {
	if !a.cfg.Idgames.Enabled {
		return nil
	}
	return idgames.NewClient(a.cfg.Idgames.BaseURL,
		idgames.WithRateLimit(a.cfg.Idgames.RequestsPerSecond),
		idgames.WithLogger(a.logger))
}

// Credentials returns the archive API credentials. Environment variables win
// over the encrypted credentials file.
func (a *DsdaApp) Credentials() (archiveapi.Credentials, error) {
	user := os.Getenv(EnvAPIUsername)
	if user == "" {
		user = a.cfg.API.Username
	}
	if pass := os.Getenv(EnvAPIPassword); pass != "" {
		if user == "" {
			return archiveapi.Credentials{}, fmt.Errorf("%s is set but no username is configured", EnvAPIPassword)
		}
		return archiveapi.Credentials{Username: user, Password: pass}, nil
	}

	store := secrets.NewCredentialStore(a.cfg.API.CredentialsPath)
	if !store.IsConfigured() {
		return archiveapi.Credentials{}, fmt.Errorf("%w: run 'dsdaup credentials set' or set %s", secrets.ErrNotConfigured, EnvAPIPassword)
	}
	passphrase := os.Getenv(EnvPassphrase)
	if passphrase == "" {
		if a.opts.Passphrase == nil {
			return archiveapi.Credentials{}, errors.New("a passphrase is required to unlock the credentials")
		}
		var err error
		if passphrase, err = a.opts.Passphrase(); err != nil {
			return archiveapi.Credentials{}, fmt.Errorf("reading passphrase: %w", err)
		}
	}
	creds, err := store.Load(passphrase)
	if err != nil {
		return archiveapi.Credentials{}, err
	}
	if user != "" && creds.Username == "" {
		creds.Username = user
	}
	return archiveapi.Credentials{Username: creds.Username, Password: creds.Password}, nil
}

// SaveCredentials encrypts and stores the archive API credentials.
func (a *DsdaApp) SaveCredentials(username, password, passphrase string) error {
	store := secrets.NewCredentialStore(a.cfg.API.CredentialsPath)
	if err := store.Save(secrets.Credentials{Username: username, Password: password}, passphrase); err != nil {
		return err
	}
	a.logger.Info("credentials saved", "path", store.Path(), "username", username)
	return nil
}

// Submitter returns the submission manager, creating the API client on
// first use.
func (a *DsdaApp) Submitter() (*demo.SubmissionManager, error) {
	if a.submitter != nil {
		return a.submitter, nil
	}
	creds, err := a.Credentials()
	if err != nil {
		return nil, err
	}
	api, err := archiveapi.NewClient(a.cfg.API.BaseURL, creds,
		archiveapi.WithTimeout(time.Duration(a.cfg.API.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, fmt.Errorf("creating archive API client: %w", err)
	}
	a.submitter = demo.NewSubmissionManager(api, a.db, a.policy, a.clock, a.ids, a.logger)
	return a.submitter, nil
}

// NewSession creates a session for a record. An empty recordID creates a new
// record. An identity accepted in an earlier run is restored from history.
// withSubmit unlocks the archive credentials so the session can submit.
func (a *DsdaApp) NewSession(ctx context.Context, recordID string, withSubmit bool) (*demo.Session, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		recordID = a.ids.New()
	}
	rec := demo.NewRecord(recordID)

	id, err := a.db.FindIdentity(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("loading accepted identity: %w", err)
	}
	if id != nil {
		rec.RestoreIdentity(*id)
		a.logger.Info("restored accepted identity", "record", recordID, "record_id", id.RecordID, "file_id", id.FileID)
	}

	deps := demo.SessionDeps{
		Collector:       demo.NewCollector(a.logger, 4),
		Resolver:        a.resolver,
		Analyzer:        a.analyzer,
		Policy:          a.policy,
		AnalysisTimeout: a.cfg.Replay.Timeout(),
		Logger:          a.logger,
	}
	if withSubmit {
		sub, err := a.Submitter()
		if err != nil {
			return nil, err
		}
		deps.Submitter = sub
	}
	return demo.NewSession(rec, deps), nil
}

// ResolveAsset runs the asset cascade outside a session.
func (a *DsdaApp) ResolveAsset(ctx context.Context, path string) (demo.Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return demo.Asset{}, fmt.Errorf("resolving path: %w", err)
	}
	return a.resolver.Resolve(ctx, demo.AssetRequest{Name: filepath.Base(abs), Path: abs})
}

// History returns the attempts logged for a record.
func (a *DsdaApp) History(ctx context.Context, recordID string) ([]*demo.Attempt, error) {
	return a.db.ListAttempts(ctx, recordID)
}

// RecentHistory returns the most recent attempts across all records.
func (a *DsdaApp) RecentHistory(ctx context.Context, limit int) ([]*demo.Attempt, error) {
	return a.db.ListRecent(ctx, limit)
}

// FindByIdentity returns the local record id that was accepted as id, or ""
// when none was.
func (a *DsdaApp) FindByIdentity(ctx context.Context, id demo.Identity) (string, error) {
	return a.db.FindRecordByIdentity(ctx, id)
}

// Policy returns the validation policy in effect.
func (a *DsdaApp) Policy() demo.Policy {
	return a.policy
}

// Fail marks the running operation as failed.
func (a *DsdaApp) Fail() {
	a.op.Fail()
}

// Close finalizes the operation and closes all resources.
func (a *DsdaApp) Close() error {
	var firstErr error
	a.logger.Info("operation finished", "command", a.op.Command, "status", a.op.Status,
		"duration", a.op.Duration(a.clock.Now()).Round(time.Millisecond))

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// MigrateDatabase applies pending schema migrations to the configured
// history database and returns the resulting version.
func MigrateDatabase(cfg *config.Config) (uint, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return 0, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return 0, fmt.Errorf("migrating database: %w", err)
	}
	return db.Version()
}
