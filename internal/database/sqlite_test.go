package database

import (
	"bytes"
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"adhoc-backup/internal/backup"
)

// newTestCatalog creates a new in-memory catalog with schema applied.
func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()

	c, err := NewSQLiteCatalog(":memory:", "host-1")
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
	})
	return c
}

func sampleRecord(name string, started time.Time) *backup.SessionRecord {
	return &backup.SessionRecord{
		Name:        name,
		Folder:      "/dst/" + name,
		ArchivePath: "/dst/" + name + ".zip",
		Mode:        "files",
		Status:      "done",
		ItemCount:   2,
		SkipCount:   1,
		TotalBytes:  30,
		StartedAt:   started,
		FinishedAt:  started.Add(2 * time.Second),
	}
}

func TestSQLiteCatalog_RecordSession(t *testing.T) {
	c := newTestCatalog(t)
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	items := []backup.StagedItem{
		{Source: "/src/a.txt", StagedPath: "/dst/s/a.txt", RelPath: "a.txt", Size: 10, Checksum: "c1", PlainChecksum: "p1", Encrypted: true},
		{Source: "/src/dir/b.txt", StagedPath: "/dst/s/dir/b.txt", RelPath: "dir/b.txt", Size: 20, Checksum: "c2", PlainChecksum: "p2", Encrypted: true},
	}
	skips := []backup.Skip{
		{Path: "/src/missing", Reason: backup.SkipNotFound},
		{Path: "/src/fifo", Reason: backup.SkipUnsupported},
		{Path: "/src/home/backups", Reason: backup.SkipDestination},
	}

	rec := sampleRecord("backup_20240115_103000", started)
	rec.Encrypted = true
	rec.SealedKey = []byte("age-encryption.org/v1\n-> scrypt sealed")
	id, err := c.RecordSession(rec, items, skips)
	if err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}
	if id == 0 || rec.ID != id {
		t.Fatalf("RecordSession() id = %d, rec.ID = %d", id, rec.ID)
	}

	found, err := c.FindSession("backup_20240115_103000")
	if err != nil {
		t.Fatalf("FindSession() error = %v", err)
	}
	if found == nil {
		t.Fatal("FindSession() = nil")
	}
	if found.HostID != "host-1" {
		t.Errorf("HostID = %q, want host-1", found.HostID)
	}
	if found.ArchivePath != rec.ArchivePath {
		t.Errorf("ArchivePath = %q, want %q", found.ArchivePath, rec.ArchivePath)
	}
	if !found.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", found.StartedAt, started)
	}
	if found.TotalBytes != 30 {
		t.Errorf("TotalBytes = %d, want 30", found.TotalBytes)
	}
	if !found.Encrypted || !bytes.Equal(found.SealedKey, rec.SealedKey) {
		t.Errorf("Encrypted = %v, SealedKey = %q", found.Encrypted, found.SealedKey)
	}

	gotItems, err := c.ItemsForSession(id)
	if err != nil {
		t.Fatalf("ItemsForSession() error = %v", err)
	}
	if len(gotItems) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(gotItems))
	}
	if gotItems[1] != items[1] {
		t.Errorf("item = %+v, want %+v", gotItems[1], items[1])
	}

	gotSkips, err := c.SkipsForSession(id)
	if err != nil {
		t.Fatalf("SkipsForSession() error = %v", err)
	}
	if !slices.Equal(gotSkips, skips) {
		t.Errorf("skips = %+v, want %+v", gotSkips, skips)
	}
}

func TestSQLiteCatalog_FindSession_notFound(t *testing.T) {
	c := newTestCatalog(t)
	rec, err := c.FindSession("backup_19990101_000000")
	if err != nil {
		t.Fatalf("FindSession() error = %v", err)
	}
	if rec != nil {
		t.Errorf("FindSession() = %+v, want nil", rec)
	}
}

func TestSQLiteCatalog_ListSessions(t *testing.T) {
	c := newTestCatalog(t)
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	for i, name := range []string{"backup_a", "backup_b", "backup_c"} {
		if _, err := c.RecordSession(sampleRecord(name, base.Add(time.Duration(i)*time.Minute)), nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all", limit: 0, want: []string{"backup_c", "backup_b", "backup_a"}},
		{name: "limited", limit: 2, want: []string{"backup_c", "backup_b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ListSessions(tt.limit)
			if err != nil {
				t.Fatalf("ListSessions() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListSessions() returned %d, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.Name != tt.want[i] {
					t.Errorf("ListSessions()[%d] = %s, want %s", i, rec.Name, tt.want[i])
				}
			}
		})
	}
}

func TestSQLiteCatalog_BackupTo(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.RecordSession(sampleRecord("backup_x", time.Now().UTC()), nil, nil); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := c.BackupTo(context.Background(), dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteCatalog(dest, "host-1")
	if err != nil {
		t.Fatalf("opening copy: %v", err)
	}
	defer copied.Close()

	rec, err := copied.FindSession("backup_x")
	if err != nil || rec == nil {
		t.Fatalf("copy is missing the session: rec=%v err=%v", rec, err)
	}
}
