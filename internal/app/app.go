package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"adhoc-backup/internal/archive"
	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/checksum"
	"adhoc-backup/internal/config"
	"adhoc-backup/internal/database"
	"adhoc-backup/internal/encryption"
	"adhoc-backup/internal/metrics"
	"adhoc-backup/internal/notify"
	"adhoc-backup/internal/staging"
)

// metricsPushTimeout bounds the Pushgateway call at the end of a run.
const metricsPushTimeout = 10 * time.Second

// App is the application layer between the CLI and the backup pipeline.
// It constructs all dependencies from config, records every run in the
// catalog and manages the catalog lifecycle on Close.
type App struct {
	cfg          *config.Config
	catalog      backup.Catalog
	clock        backup.Clock
	ids          backup.IDGenerator
	console      io.Writer
	consoleLevel slog.Level
}

// Option configures an App.
type Option func(*App)

// WithClock replaces the wall clock used for session names.
func WithClock(c backup.Clock) Option { return func(a *App) { a.clock = c } }

// WithIDGenerator replaces the generator for run IDs and name suffixes.
func WithIDGenerator(g backup.IDGenerator) Option { return func(a *App) { a.ids = g } }

// WithConsole mirrors log records at or above level to w. Pass nil to
// disable console output.
func WithConsole(w io.Writer, level slog.Level) Option {
	return func(a *App) {
		a.console = w
		a.consoleLevel = level
	}
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:          cfg,
		clock:        backup.RealClock{},
		ids:          backup.UUIDGenerator{},
		console:      os.Stderr,
		consoleLevel: slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(a)
	}

	catalog, err := database.NewCatalogFromConfig(cfg.Catalog, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	a.catalog = catalog
	return a, nil
}

// RunParams are the raw inputs of one backup run, as given on the command line.
type RunParams struct {
	Mode            string
	Sources         []string
	DestinationRoot string // empty selects the configured destination
	Encrypt         bool
	Secret          string
}

// Run validates params, runs the pipeline and records the outcome. Invalid
// params are rejected before anything is written to disk.
func (a *App) Run(ctx context.Context, p RunParams) (*backup.Result, error) {
	mode, err := backup.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	dest := p.DestinationRoot
	if dest == "" {
		dest = a.cfg.DestinationRoot
	}
	var reqOpts []backup.RequestOption
	if p.Encrypt {
		reqOpts = append(reqOpts, backup.WithSecret(p.Secret))
	}
	req, err := backup.NewRequest(mode, p.Sources, dest, reqOpts...)
	if err != nil {
		return nil, err
	}

	runID := a.ids.New()
	slogger, logFile, err := newLogger(req.DestinationRoot(), runID, a.console, a.consoleLevel)
	if err != nil {
		return nil, backup.NewError(backup.ErrIO, req.DestinationRoot(), "opening log failed", err)
	}
	defer logFile.Close()
	logger := &slogAdapter{l: slogger}

	orch, err := a.newOrchestrator(logger)
	if err != nil {
		logger.Error("backup failed", "error", err.Error())
		return nil, err
	}

	res, runErr := orch.Run(ctx, req)

	a.record(res, runErr, logger)
	a.pushMetrics(ctx, res, logger)
	return res, runErr
}

func (a *App) newOrchestrator(logger backup.Logger) (*backup.Orchestrator, error) {
	stager, err := staging.NewStagerFromConfig(a.cfg, logger, a.clock, a.ids)
	if err != nil {
		return nil, backup.NewError(backup.ErrConfig, "", "creating stager failed", err)
	}
	archiver, err := archive.NewArchiverFromConfig(a.cfg.Archive)
	if err != nil {
		return nil, backup.NewError(backup.ErrConfig, "", "creating archiver failed", err)
	}
	notifier, err := notify.NewNotifierFromConfig(a.cfg.Notifier, logger)
	if err != nil {
		return nil, backup.NewError(backup.ErrConfig, "", "creating notifier failed", err)
	}
	keys, err := encryption.NewKeyDeriverFromConfig(a.cfg.Encryption)
	if err != nil {
		return nil, backup.NewError(backup.ErrConfig, "", "creating key deriver failed", err)
	}
	return backup.NewOrchestrator(stager, archiver, notifier, keys, logger, a.clock), nil
}

// record saves the run in the catalog. Runs rejected before a session
// folder existed are not recorded.
func (a *App) record(res *backup.Result, runErr error, logger backup.Logger) {
	if a.catalog == nil || res == nil || res.Session.Name == "" {
		return
	}
	rec := backup.NewSessionRecord(res, runErr)
	rec.HostID = a.cfg.HostID
	if _, err := a.catalog.RecordSession(rec, res.Items, res.Skips); err != nil {
		logger.Warn("recording session failed", "session", res.Session.Name, "error", err.Error())
	}
}

func (a *App) pushMetrics(ctx context.Context, res *backup.Result, logger backup.Logger) {
	if a.cfg.Metrics.PushgatewayURL == "" || res == nil {
		return
	}
	run := metrics.NewRun()
	run.Observe(res)

	ctx, cancel := context.WithTimeout(ctx, metricsPushTimeout)
	defer cancel()
	if err := run.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, a.cfg.HostID, res.State == backup.StateDone); err != nil {
		logger.Warn("metrics push failed", "url", a.cfg.Metrics.PushgatewayURL, "error", err.Error())
	}
}

// History returns the most recent sessions from the catalog.
func (a *App) History(limit int) ([]*backup.SessionRecord, error) {
	if a.catalog == nil {
		return nil, fmt.Errorf("catalog is disabled")
	}
	return a.catalog.ListSessions(limit)
}

// Mismatch is one problem found by Verify.
type Mismatch struct {
	Path   string
	Reason string
}

// VerifyReport is the outcome of re-checking a recorded session.
type VerifyReport struct {
	Session       *backup.SessionRecord
	Checked       int
	ArchiveRead   bool
	PlainVerified int
	Mismatches    []Mismatch
}

// OK reports whether no problem was found.
func (r *VerifyReport) OK() bool { return len(r.Mismatches) == 0 }

// Verify re-computes the digests of a recorded session: every staged file,
// every archive entry, and with a secret the plaintext of encrypted files.
func (a *App) Verify(ctx context.Context, name, secret string) (*VerifyReport, error) {
	if a.catalog == nil {
		return nil, fmt.Errorf("catalog is disabled")
	}
	rec, err := a.catalog.FindSession(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, backup.NewError(backup.ErrNotFound, name, "session not found", nil)
	}
	items, err := a.catalog.ItemsForSession(rec.ID)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Session: rec}

	var key *encryption.Key
	if secret != "" && rec.Encrypted {
		key, err = openSessionKey(rec, secret)
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{Path: filepath.Join(rec.Folder, backup.KeyFileName), Reason: "session key could not be opened: " + err.Error()})
		}
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Checked++

		sum, err := checksum.File(it.StagedPath)
		switch {
		case err != nil:
			report.Mismatches = append(report.Mismatches, Mismatch{Path: it.StagedPath, Reason: "staged file unreadable: " + err.Error()})
		case sum != it.Checksum:
			report.Mismatches = append(report.Mismatches, Mismatch{Path: it.StagedPath, Reason: "staged file checksum mismatch"})
		case key != nil && it.Encrypted:
			h := checksum.New()
			if err := key.DecryptFile(it.StagedPath, h); err != nil {
				report.Mismatches = append(report.Mismatches, Mismatch{Path: it.StagedPath, Reason: "decryption failed"})
			} else if checksum.Hex(h) != it.PlainChecksum {
				report.Mismatches = append(report.Mismatches, Mismatch{Path: it.StagedPath, Reason: "plaintext checksum mismatch"})
			} else {
				report.PlainVerified++
			}
		}
	}

	if rec.ArchivePath != "" {
		digests, err := archive.Digests(rec.ArchivePath)
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{Path: rec.ArchivePath, Reason: "archive unreadable: " + err.Error()})
			return report, nil
		}
		report.ArchiveRead = true
		for _, it := range items {
			got, ok := digests[it.RelPath]
			switch {
			case !ok:
				report.Mismatches = append(report.Mismatches, Mismatch{Path: rec.ArchivePath + ":" + it.RelPath, Reason: "missing from archive"})
			case got != it.Checksum:
				report.Mismatches = append(report.Mismatches, Mismatch{Path: rec.ArchivePath + ":" + it.RelPath, Reason: "archive entry checksum mismatch"})
			}
		}
	}
	return report, nil
}

// openSessionKey unseals the key of an encrypted session. The catalog copy is
// preferred; the key file in the session folder is the fallback.
func openSessionKey(rec *backup.SessionRecord, secret string) (*encryption.Key, error) {
	sealed := rec.SealedKey
	if len(sealed) == 0 {
		b, err := os.ReadFile(filepath.Join(rec.Folder, backup.KeyFileName))
		if err != nil {
			return nil, backup.NewError(backup.ErrIO, rec.Folder, "reading session key failed", err)
		}
		sealed = b
	}
	return encryption.OpenKey(secret, sealed)
}

// catalogExporter is implemented by catalogs that can write a copy of
// themselves.
type catalogExporter interface {
	BackupTo(ctx context.Context, destPath string) error
}

// ExportCatalog writes a consistent copy of the catalog database to dest.
func (a *App) ExportCatalog(ctx context.Context, dest string) error {
	exp, ok := a.catalog.(catalogExporter)
	if !ok {
		return fmt.Errorf("catalog type %q cannot be exported", a.cfg.Catalog.Type)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination already exists: %s", dest)
	}
	if err := exp.BackupTo(ctx, dest); err != nil {
		return fmt.Errorf("exporting catalog: %w", err)
	}
	return nil
}

// Close closes the catalog.
func (a *App) Close() error {
	if a.catalog == nil {
		return nil
	}
	if err := a.catalog.Close(); err != nil {
		return fmt.Errorf("closing catalog: %w", err)
	}
	return nil
}
