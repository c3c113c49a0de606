package backup

import "time"

// SessionRecord is the catalog entry for one finished run.
type SessionRecord struct {
	ID          int64
	HostID      string
	Name        string
	Folder      string
	ArchivePath string
	Mode        string
	Status      string
	Error       string
	Encrypted   bool
	SealedKey   []byte
	ItemCount   int
	SkipCount   int
	TotalBytes  int64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Catalog stores a history of runs, their staged items and skips.
type Catalog interface {
	RecordSession(rec *SessionRecord, items []StagedItem, skips []Skip) (int64, error)

	// ListSessions returns the most recent sessions first.
	ListSessions(limit int) ([]*SessionRecord, error)

	// FindSession returns nil and no error if no session has that name.
	FindSession(name string) (*SessionRecord, error)

	ItemsForSession(sessionID int64) ([]StagedItem, error)
	SkipsForSession(sessionID int64) ([]Skip, error)

	Close() error
}

// NewSessionRecord summarises a Result for the catalog.
func NewSessionRecord(res *Result, runErr error) *SessionRecord {
	rec := &SessionRecord{
		Name:        res.Session.Name,
		Folder:      res.Session.Folder,
		ArchivePath: res.ArchivePath,
		Mode:        res.Mode.String(),
		Status:      res.State.String(),
		Encrypted:   res.Encrypted,
		SealedKey:   res.SealedKey,
		ItemCount:   len(res.Items),
		SkipCount:   len(res.Skips),
		TotalBytes:  res.TotalBytes(),
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}
