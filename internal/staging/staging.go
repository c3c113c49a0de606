package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"adhoc-backup/internal/archive"
	"adhoc-backup/internal/backup"
)

// maxNameAttempts bounds how many suffixed session names are tried before
// giving up.
const maxNameAttempts = 8

// Options configures a Stager.
type Options struct {
	Filesystem  backup.FilesystemManager
	Snapshotter backup.DatabaseSnapshotter // optional; database sources are copied byte for byte without one
	Logger      backup.Logger
	Clock       backup.Clock
	IDs         backup.IDGenerator
	Workers     int // sources staged in parallel; values below 1 mean one
}

// Stager implements backup.Stager on top of a FilesystemManager.
type Stager struct {
	fsmgr   backup.FilesystemManager
	snap    backup.DatabaseSnapshotter
	logger  backup.Logger
	clock   backup.Clock
	ids     backup.IDGenerator
	workers int
}

var _ backup.Stager = (*Stager)(nil)

// New creates a Stager. Filesystem is required; the other options have
// working defaults.
func New(opts Options) *Stager {
	s := &Stager{
		fsmgr:   opts.Filesystem,
		snap:    opts.Snapshotter,
		logger:  opts.Logger,
		clock:   opts.Clock,
		ids:     opts.IDs,
		workers: opts.Workers,
	}
	if s.logger == nil {
		s.logger = backup.NewNopLogger()
	}
	if s.clock == nil {
		s.clock = backup.RealClock{}
	}
	if s.ids == nil {
		s.ids = backup.UUIDGenerator{}
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// rootTargetName names the staged copy of a filesystem root, whose base name
// would otherwise be the separator itself.
const rootTargetName = "root"

// job is one source that will be copied into the session folder.
type job struct {
	source *backup.Source
	target string // path relative to the session folder
}

// outcome is what staging one job produced.
type outcome struct {
	items    []backup.StagedItem
	skips    []backup.Skip
	failures []*backup.Error
}

// Stage creates a new session folder below destinationRoot and copies every
// source into it. Missing and unsupported sources are skipped. Per-source
// failures do not stop the other sources; they are returned together as a
// *backup.StageError once every job has finished.
func (s *Stager) Stage(ctx context.Context, mode backup.Mode, sources []string, destinationRoot string, key backup.FileEncrypter) (*backup.StageResult, error) {
	if abs, err := filepath.Abs(destinationRoot); err == nil {
		destinationRoot = abs
	}
	session, err := s.createSession(destinationRoot)
	if err != nil {
		return nil, err
	}
	res := &backup.StageResult{Session: session}

	sealed, hasKeyFile := key.(backup.SealedKey)
	if hasKeyFile {
		if err := s.writeKeyFile(session.Folder, sealed); err != nil {
			return res, err
		}
	}

	jobs, skips, failures := s.plan(mode, sources, hasKeyFile)
	res.Skips = append(res.Skips, skips...)
	excl := exclusions{root: destinationRoot, folder: session.Folder}

	outcomes := make([]outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			// Failures are collected in outcomes; returning nil keeps
			// siblings running.
			if gctx.Err() != nil {
				return nil
			}
			outcomes[i] = s.stageJob(gctx, mode, excl, j, key)
			return nil
		})
	}
	g.Wait()

	for _, o := range outcomes {
		res.Items = append(res.Items, o.items...)
		res.Skips = append(res.Skips, o.skips...)
		failures = append(failures, o.failures...)
	}

	if err := ctx.Err(); err != nil {
		return res, backup.NewError(backup.ErrIO, "", "staging canceled", err)
	}
	if len(failures) > 0 {
		return res, &backup.StageError{Failures: failures}
	}
	return res, nil
}

// createSession makes the session folder. The timestamp name is used when it
// is free; otherwise a short random suffix is appended. A folder is never
// reused, and a name whose archive already exists is treated as taken.
func (s *Stager) createSession(root string) (backup.Session, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return backup.Session{}, backup.NewError(backup.ErrIO, root, "creating destination failed", err)
	}

	started := s.clock.Now()
	base := backup.SessionName(started)
	name := base
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		if attempt > 0 {
			name = base + "_" + shortID(s.ids.New())
		}
		folder := filepath.Join(root, name)

		taken, err := archiveExists(folder)
		if err != nil {
			return backup.Session{}, backup.NewError(backup.ErrIO, folder, "creating session folder failed", err)
		}
		if taken {
			continue
		}

		err = os.Mkdir(folder, 0755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return backup.Session{}, backup.NewError(backup.ErrIO, folder, "creating session folder failed", err)
		}

		s.logger.Info("session folder created", "path", folder)
		return backup.Session{Name: name, Folder: folder, StartedAt: started}, nil
	}
	return backup.Session{}, backup.NewError(backup.ErrIO, filepath.Join(root, base), "creating session folder failed",
		fmt.Errorf("no free session name after %d attempts", maxNameAttempts))
}

// archiveExists reports whether a container for folder is already present.
func archiveExists(folder string) (bool, error) {
	for _, format := range []string{archive.FormatZip, archive.FormatTarGz} {
		_, err := os.Lstat(folder + "." + format)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// writeKeyFile stores the sealed session key at the top of the session folder.
func (s *Stager) writeKeyFile(folder string, key backup.SealedKey) error {
	path := filepath.Join(folder, backup.KeyFileName)
	if err := os.WriteFile(path, key.Sealed(), 0600); err != nil {
		return backup.NewError(backup.ErrIO, path, "writing session key failed", err)
	}
	s.logger.Info("session key written", "path", path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// plan classifies every source and assigns each stageable one a distinct
// target name, in request order.
func (s *Stager) plan(mode backup.Mode, sources []string, reserveKeyFile bool) ([]job, []backup.Skip, []*backup.Error) {
	var (
		jobs     []job
		skips    []backup.Skip
		failures []*backup.Error
	)
	names := newNameSet()
	if reserveKeyFile {
		names.claim(backup.KeyFileName, false)
	}

	for _, raw := range sources {
		src, err := s.fsmgr.Resolve(raw)
		if err != nil {
			s.logger.Error("copy failed", "path", raw, "error", err)
			failures = append(failures, stageFailure(raw, "copy failed", err))
			continue
		}

		switch {
		case src.Kind() == backup.SourceMissing:
			skips = append(skips, s.skip(src.String(), backup.SkipNotFound))
		case src.Kind() == backup.SourceUnsupported:
			skips = append(skips, s.skip(src.String(), backup.SkipUnsupported))
		case src.Kind() == backup.SourceDirectory && mode == backup.ModeDatabase:
			skips = append(skips, s.skip(src.String(), backup.SkipUnsupported))
		default:
			jobs = append(jobs, job{
				source: src,
				target: names.claim(targetName(src.String()), src.Kind() == backup.SourceDirectory),
			})
		}
	}
	return jobs, skips, failures
}

// targetName is the name a source gets inside the session folder.
func targetName(path string) string {
	base := filepath.Base(path)
	switch base {
	case string(filepath.Separator), ".", "..", "":
		return rootTargetName
	}
	return base
}

// exclusions are the paths a directory walk must not descend into: the
// destination root and the session folder being written.
type exclusions struct {
	root   string
	folder string
}

func (x exclusions) match(path string) bool {
	path = filepath.Clean(path)
	return path == x.root || path == x.folder
}

func (s *Stager) skip(path string, reason backup.SkipReason) backup.Skip {
	s.logger.Warn("skipped: "+reason.String(), "path", path)
	return backup.Skip{Path: path, Reason: reason}
}

func (s *Stager) stageJob(ctx context.Context, mode backup.Mode, excl exclusions, j job, key backup.FileEncrypter) outcome {
	if j.source.Kind() == backup.SourceDirectory {
		return s.stageDirectory(ctx, excl, j, key)
	}

	var o outcome
	item, err := s.stageFile(ctx, mode, j.source.String(), excl.folder, j.target, key)
	if err != nil {
		o.failures = append(o.failures, err)
		return o
	}
	o.items = append(o.items, *item)
	return o
}

func (s *Stager) stageDirectory(ctx context.Context, excl exclusions, j job, key backup.FileEncrypter) outcome {
	var o outcome
	src := j.source.String()
	folder := excl.folder

	if err := os.Mkdir(filepath.Join(folder, j.target), j.source.Info().Mode().Perm()|0700); err != nil {
		o.failures = append(o.failures, stageFailure(src, "copy failed", err))
		return o
	}

	err := s.fsmgr.Walk(j.source, func(e backup.WalkEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := filepath.Join(j.target, e.RelPath)

		if excl.match(e.Path) {
			o.skips = append(o.skips, s.skip(e.Path, backup.SkipDestination))
			if e.Kind == backup.SourceDirectory {
				return filepath.SkipDir
			}
			return nil
		}

		switch e.Kind {
		case backup.SourceDirectory:
			if err := os.Mkdir(filepath.Join(folder, rel), e.Info.Mode().Perm()|0700); err != nil {
				// Nothing below a directory that could not be created can be staged.
				o.failures = append(o.failures, stageFailure(e.Path, "copy failed", err))
				return filepath.SkipDir
			}
		case backup.SourceFile:
			item, err := s.stageFile(ctx, backup.ModeFolders, e.Path, folder, rel, key)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.failures = append(o.failures, err)
				return nil
			}
			o.items = append(o.items, *item)
		default:
			o.skips = append(o.skips, s.skip(e.Path, backup.SkipUnsupported))
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		o.failures = append(o.failures, stageFailure(src, "copy failed", err))
	}

	s.logger.Info("directory staged", "path", src, "files", len(o.items))
	return o
}

// stageFile copies one regular file to folder/rel, encrypts it when key is
// set and digests the stored artifact.
func (s *Stager) stageFile(ctx context.Context, mode backup.Mode, src, folder, rel string, key backup.FileEncrypter) (*backup.StagedItem, *backup.Error) {
	dst := filepath.Join(folder, rel)

	plain, size, err := s.copy(ctx, mode, src, dst)
	if err != nil {
		s.logger.Error("copy failed", "path", src, "error", err)
		return nil, stageFailure(src, "copy failed", err)
	}

	if key != nil {
		if err := key.EncryptFile(dst); err != nil {
			s.logger.Error("encryption failed", "path", src, "error", err)
			return nil, stageFailure(src, "encryption failed", err)
		}
		s.logger.Debug("file encrypted", "path", dst)
	}

	stored, err := digestFile(dst)
	if err != nil {
		s.logger.Error("checksum failed", "path", src, "error", err)
		return nil, stageFailure(src, "checksum failed", err)
	}
	if key == nil && stored != plain {
		err := fmt.Errorf("stored digest %s does not match copied digest %s", stored, plain)
		s.logger.Error("checksum failed", "path", src, "error", err)
		return nil, backup.NewError(backup.ErrIO, src, "checksum failed", err)
	}

	item := &backup.StagedItem{
		Source:        src,
		StagedPath:    dst,
		RelPath:       filepath.ToSlash(rel),
		Size:          size,
		Checksum:      stored,
		PlainChecksum: plain,
		Encrypted:     key != nil,
	}
	if item.Encrypted {
		s.logger.Info("file backed up", "path", src, "checksum", stored, "plain_checksum", plain)
	} else {
		s.logger.Info("file backed up", "path", src, "checksum", stored)
	}
	return item, nil
}

// stageFailure turns err into a per-source failure. The kind of err is kept;
// a nested pipeline error contributes only its cause so messages do not repeat.
func stageFailure(src, msg string, err error) *backup.Error {
	kind := backup.KindOrIO(err)
	var be *backup.Error
	if errors.As(err, &be) && be.Err != nil {
		err = be.Err
	}
	return backup.NewError(kind, src, msg, err)
}
