package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of one Orchestrator.Run.
type Result struct {
	State       State
	Transitions []Transition
	Mode        Mode
	Encrypted   bool
	// SealedKey is the session key sealed with the operator secret, set
	// when the run is encrypted.
	SealedKey   []byte
	Session     Session
	ArchivePath string
	Items       []StagedItem
	Skips       []Skip
	// Failures holds every per-source failure when staging failed.
	Failures []*Error
	// NotifyErr is set when the notifier failed. The run still succeeded.
	NotifyErr  error
	StartedAt  time.Time
	FinishedAt time.Time
}

// TotalBytes is the stored size of all staged items.
func (r *Result) TotalBytes() int64 {
	var n int64
	for _, it := range r.Items {
		n += it.Size
	}
	return n
}

// Orchestrator drives one request through staging, compression and
// notification.
type Orchestrator struct {
	stager   Stager
	archiver Archiver
	notifier Notifier
	keys     KeyDeriver
	logger   Logger
	clock    Clock
}

// NewOrchestrator creates an Orchestrator. keys may be nil when no request
// will ask for encryption; notifier may be nil to skip notification.
func NewOrchestrator(stager Stager, archiver Archiver, notifier Notifier, keys KeyDeriver, logger Logger, clock Clock) *Orchestrator {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Orchestrator{
		stager:   stager,
		archiver: archiver,
		notifier: notifier,
		keys:     keys,
		logger:   logger,
		clock:    clock,
	}
}

// Run executes req. On failure the returned Result still describes whatever
// was staged; partial output is left on disk for inspection.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	m := newMachine(o.clock)
	res := &Result{
		State:     StateIdle,
		Mode:      req.Mode(),
		Encrypted: req.Encrypted(),
		StartedAt: o.clock.Now(),
	}

	if err := req.Validate(); err != nil {
		return o.fail(ctx, m, res, err)
	}

	var key FileEncrypter
	if req.Encrypted() {
		if o.keys == nil {
			return o.fail(ctx, m, res, NewError(ErrCrypto, "", "encryption failed", fmt.Errorf("no key deriver configured")))
		}
		k, err := o.keys.DeriveKey(req.secretValue())
		if err != nil {
			return o.fail(ctx, m, res, NewError(ErrCrypto, "", "key derivation failed", err))
		}
		key = k
		if sk, ok := k.(SealedKey); ok {
			res.SealedKey = sk.Sealed()
		}
	}

	if err := o.advance(m, res, StateStaging); err != nil {
		return o.fail(ctx, m, res, err)
	}
	o.logger.Info("backup started", "mode", req.Mode().String(), "sources", len(req.Sources()), "destination", req.DestinationRoot(), "encrypted", req.Encrypted())

	staged, err := o.stager.Stage(ctx, req.Mode(), req.Sources(), req.DestinationRoot(), key)
	if staged != nil {
		res.Session = staged.Session
		res.Items = staged.Items
		res.Skips = staged.Skips
	}
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			res.Failures = se.Failures
		}
		return o.fail(ctx, m, res, err)
	}

	if err := o.advance(m, res, StateCompressing); err != nil {
		return o.fail(ctx, m, res, err)
	}
	archivePath, err := o.archiver.Compress(ctx, res.Session.Folder)
	if err != nil {
		return o.fail(ctx, m, res, NewError(KindOrIO(err), res.Session.Folder, "archive failed", err))
	}
	res.ArchivePath = archivePath
	o.logger.Info("archive created", "path", archivePath)

	if err := o.advance(m, res, StateNotifying); err != nil {
		return o.fail(ctx, m, res, err)
	}
	subject, body := successMessage(res)
	if err := o.notify(ctx, subject, body); err != nil {
		res.NotifyErr = err
	}

	if err := o.advance(m, res, StateDone); err != nil {
		return o.fail(ctx, m, res, err)
	}
	res.FinishedAt = o.clock.Now()
	o.logger.Info("backup complete", "archive", archivePath, "items", len(res.Items), "skipped", len(res.Skips))
	return res, nil
}

func (o *Orchestrator) advance(m *machine, res *Result, to State) error {
	if err := m.transition(to); err != nil {
		return err
	}
	res.State = m.state
	res.Transitions = append([]Transition(nil), m.history...)
	return nil
}

// fail moves the run to Failed and sends a best-effort failure notification.
func (o *Orchestrator) fail(ctx context.Context, m *machine, res *Result, err error) (*Result, error) {
	runErr := withState(err, m.state)
	if terr := m.transition(StateFailed); terr == nil {
		res.State = m.state
		res.Transitions = append([]Transition(nil), m.history...)
	}
	res.FinishedAt = o.clock.Now()

	o.logger.Error("backup failed", "state", runErr.State.String(), "source", runErr.Source, "error", runErr.Error())

	// Rejected requests are reported to the caller only.
	if res.Session.Folder != "" || runErr.State != StateIdle || runErr.Kind != ErrConfig {
		subject, body := failureMessage(res, runErr)
		if nerr := o.notify(ctx, subject, body); nerr != nil {
			res.NotifyErr = nerr
		}
	}
	return res, runErr
}

func (o *Orchestrator) notify(ctx context.Context, subject, body string) error {
	if o.notifier == nil {
		return nil
	}
	if err := o.notifier.Notify(ctx, subject, body); err != nil {
		nerr := NewError(ErrNotify, "", "notification failed", err)
		o.logger.Warn("notification failed", "subject", subject, "error", err.Error())
		return nerr
	}
	return nil
}

// KindOrIO returns the kind carried by err, defaulting to ErrIO.
func KindOrIO(err error) error {
	if kind := KindOf(err); kind != nil {
		return kind
	}
	return ErrIO
}

func successMessage(res *Result) (string, string) {
	subject := "Backup completed: " + res.Session.Name
	var b strings.Builder
	fmt.Fprintf(&b, "Archive: %s\n", res.ArchivePath)
	fmt.Fprintf(&b, "Mode: %s\n", res.Mode)
	fmt.Fprintf(&b, "Files: %d (%d bytes)\n", len(res.Items), res.TotalBytes())
	fmt.Fprintf(&b, "Encrypted: %t\n", res.Encrypted)
	if len(res.Skips) > 0 {
		fmt.Fprintf(&b, "Skipped: %d\n", len(res.Skips))
		for _, s := range res.Skips {
			fmt.Fprintf(&b, "  %s: %s\n", s.Path, s.Reason)
		}
	}
	return subject, b.String()
}

func failureMessage(res *Result, err *Error) (string, string) {
	name := res.Session.Name
	if name == "" {
		name = "no session"
	}
	subject := "Backup failed: " + name
	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s\n", err.State)
	if err.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", err.Source)
	}
	fmt.Fprintf(&b, "Error: %s\n", err.Error())
	if res.Session.Folder != "" {
		fmt.Fprintf(&b, "Partial output left in: %s\n", res.Session.Folder)
	}
	return subject, b.String()
}
