package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"testing"
	"time"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/database"
	"adhoc-backup/internal/encryption"
	"adhoc-backup/internal/fs"
	"adhoc-backup/internal/testutil"
)

const sessionName = "backup_20240115_103000"

func newTestStager(t *testing.T, workers int) (*Stager, *testutil.RecordingLogger) {
	t.Helper()
	logger := testutil.NewRecordingLogger()
	s := New(Options{
		Filesystem:  fs.NewOSFilesystemManager(nil),
		Snapshotter: database.SQLiteSnapshotter{},
		Logger:      logger,
		Clock:       testutil.FixedClock(),
		IDs:         testutil.NewStubIDGenerator("abcdef0123456789"),
		Workers:     workers,
	})
	return s, logger
}

func relPaths(items []backup.StagedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.RelPath
	}
	return out
}

func TestStager_Stage_filesAndDirectory(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "backups")

	big := strings.Repeat("x", 10*1024)
	testutil.WriteFile(t, filepath.Join(src, "big.bin"), []byte(big))
	testutil.WriteTree(t, filepath.Join(src, "docs"), map[string]string{
		"a.txt":     "alpha",
		"b.txt":     "bravo",
		"sub/c.txt": "charlie",
	})

	s, logger := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFiles,
		[]string{filepath.Join(src, "big.bin"), filepath.Join(src, "docs")}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if res.Session.Name != sessionName {
		t.Errorf("session name = %q, want %q", res.Session.Name, sessionName)
	}
	if res.Session.Folder != filepath.Join(dest, sessionName) {
		t.Errorf("session folder = %q", res.Session.Folder)
	}

	want := []string{"big.bin", "docs/a.txt", "docs/b.txt", "docs/sub/c.txt"}
	if got := relPaths(res.Items); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("items = %v, want %v", got, want)
	}
	if len(res.Skips) != 0 {
		t.Errorf("skips = %v, want none", res.Skips)
	}

	tree := testutil.ReadTree(t, res.Session.Folder)
	if len(tree) != 4 {
		t.Errorf("session folder holds %d files, want 4", len(tree))
	}
	if tree["docs/sub/c.txt"] != "charlie" || tree["big.bin"] != big {
		t.Error("staged content does not match source")
	}

	for _, it := range res.Items {
		if it.Encrypted {
			t.Errorf("%s marked encrypted", it.RelPath)
		}
		if it.Checksum != it.PlainChecksum {
			t.Errorf("%s: checksum %s != plain %s", it.RelPath, it.Checksum, it.PlainChecksum)
		}
	}
	if res.Items[0].Checksum != testutil.SHA256Hex([]byte(big)) {
		t.Error("big.bin checksum is not the digest of its content")
	}
	if res.Items[0].Size != int64(len(big)) {
		t.Errorf("big.bin size = %d", res.Items[0].Size)
	}

	if n := len(logger.Find("file backed up")); n != 4 {
		t.Errorf("%d backed up lines, want 4", n)
	}
	if n := logger.CountPrefix("skipped"); n != 0 {
		t.Errorf("%d skipped lines, want 0", n)
	}
}

func TestStager_Stage_skips(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "ok.txt"), []byte("ok"))

	fifo := filepath.Join(src, "pipe")
	if err := syscall.Mkfifo(fifo, 0644); err != nil {
		t.Skipf("mkfifo not available: %v", err)
	}
	link := filepath.Join(src, "link")
	if err := os.Symlink(filepath.Join(src, "ok.txt"), link); err != nil {
		t.Fatal(err)
	}

	s, logger := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFiles,
		[]string{filepath.Join(src, "missing.txt"), fifo, filepath.Join(src, "ok.txt"), link}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if len(res.Items) != 1 || res.Items[0].RelPath != "ok.txt" {
		t.Errorf("items = %v, want only ok.txt", relPaths(res.Items))
	}

	wantSkips := []backup.Skip{
		{Path: filepath.Join(src, "missing.txt"), Reason: backup.SkipNotFound},
		{Path: fifo, Reason: backup.SkipUnsupported},
		{Path: link, Reason: backup.SkipUnsupported},
	}
	if len(res.Skips) != len(wantSkips) {
		t.Fatalf("skips = %v, want %v", res.Skips, wantSkips)
	}
	for i := range wantSkips {
		if res.Skips[i] != wantSkips[i] {
			t.Errorf("skip[%d] = %v, want %v", i, res.Skips[i], wantSkips[i])
		}
	}

	if n := len(logger.Find("skipped: source not found")); n != 1 {
		t.Errorf("%d not found lines, want 1", n)
	}
	if n := len(logger.Find("skipped: unsupported file type")); n != 2 {
		t.Errorf("%d unsupported lines, want 2", n)
	}
}

func TestStager_Stage_sessionNameTaken(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dest string)
	}{
		{
			name: "folder exists",
			setup: func(t *testing.T, dest string) {
				testutil.WriteFile(t, filepath.Join(dest, sessionName, "old.txt"), []byte("old"))
			},
		},
		{
			name: "archive exists",
			setup: func(t *testing.T, dest string) {
				testutil.WriteFile(t, filepath.Join(dest, sessionName+".zip"), []byte("old"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			dest := t.TempDir()
			testutil.WriteFile(t, filepath.Join(src, "a.txt"), []byte("new"))
			tt.setup(t, dest)

			s, _ := newTestStager(t, 1)
			res, err := s.Stage(context.Background(), backup.ModeFiles, []string{filepath.Join(src, "a.txt")}, dest, nil)
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}

			want := sessionName + "_abcdef01"
			if res.Session.Name != want {
				t.Errorf("session name = %q, want %q", res.Session.Name, want)
			}
			if testutil.Exists(filepath.Join(dest, sessionName, "a.txt")) {
				t.Error("new file written into the existing session")
			}
		})
	}
}

func TestStager_Stage_basenameCollision(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "one", "notes.txt"), []byte("first"))
	testutil.WriteFile(t, filepath.Join(src, "two", "notes.txt"), []byte("second"))
	testutil.WriteFile(t, filepath.Join(src, "three", "notes.txt"), []byte("third"))

	s, _ := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFiles, []string{
		filepath.Join(src, "one", "notes.txt"),
		filepath.Join(src, "two", "notes.txt"),
		filepath.Join(src, "three", "notes.txt"),
	}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	tree := testutil.ReadTree(t, res.Session.Folder)
	want := map[string]string{"notes.txt": "first", "notes_1.txt": "second", "notes_2.txt": "third"}
	for name, content := range want {
		if tree[name] != content {
			t.Errorf("%s = %q, want %q", name, tree[name], content)
		}
	}
}

func TestStager_Stage_encrypted(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "top.txt"), []byte("top secret"))
	testutil.WriteTree(t, filepath.Join(src, "dir"), map[string]string{"inner.txt": "inner secret"})

	key := testutil.NewTestKey(t, "correcthorse")
	s, logger := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFiles,
		[]string{filepath.Join(src, "top.txt"), filepath.Join(src, "dir")}, dest, key)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %v, want 2", relPaths(res.Items))
	}

	for _, it := range res.Items {
		if !it.Encrypted {
			t.Errorf("%s not marked encrypted", it.RelPath)
		}
		if it.Checksum == it.PlainChecksum {
			t.Errorf("%s: stored checksum equals plaintext checksum", it.RelPath)
		}

		stored, err := os.ReadFile(it.StagedPath)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(stored), "secret") {
			t.Errorf("%s stored in plaintext", it.RelPath)
		}
		if testutil.SHA256Hex(stored) != it.Checksum {
			t.Errorf("%s: checksum does not cover the stored artifact", it.RelPath)
		}

		plain, err := key.Decrypt(stored)
		if err != nil {
			t.Fatalf("decrypting %s: %v", it.RelPath, err)
		}
		if testutil.SHA256Hex(plain) != it.PlainChecksum {
			t.Errorf("%s: plain checksum does not cover the decrypted content", it.RelPath)
		}
	}

	for _, e := range logger.Find("file backed up") {
		if e.Attr("plain_checksum") == nil {
			t.Errorf("backed up line without plain_checksum: %v", e)
		}
	}

	sealed, err := os.ReadFile(filepath.Join(res.Session.Folder, backup.KeyFileName))
	if err != nil {
		t.Fatalf("reading session key file: %v", err)
	}
	for _, it := range res.Items {
		if it.RelPath == backup.KeyFileName {
			t.Error("session key file recorded as a staged item")
		}
	}
	reopened, err := encryption.OpenKey("correcthorse", sealed)
	if err != nil {
		t.Fatalf("OpenKey() error = %v", err)
	}
	stored, err := os.ReadFile(res.Items[0].StagedPath)
	if err != nil {
		t.Fatal(err)
	}
	if plain, err := reopened.Decrypt(stored); err != nil || string(plain) != "top secret" {
		t.Errorf("key file does not open the session: %q, %v", plain, err)
	}
}

func TestStager_Stage_keyFileNameReserved(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, backup.KeyFileName), []byte("user data"))

	s, _ := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFiles,
		[]string{filepath.Join(src, backup.KeyFileName)}, dest, testutil.NewTestKey(t, "correcthorse"))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if got := relPaths(res.Items); len(got) != 1 || got[0] == backup.KeyFileName {
		t.Errorf("items = %v, want the source renamed away from the key file", got)
	}
}

func TestStager_Stage_noKeyFile(t *testing.T) {
	tests := []struct {
		name string
		key  backup.FileEncrypter
	}{
		{name: "plaintext", key: nil},
		{name: "encrypter without sealed key", key: &testutil.FailingEncrypter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			testutil.WriteFile(t, filepath.Join(src, "a.txt"), []byte("a"))

			s, _ := newTestStager(t, 1)
			res, err := s.Stage(context.Background(), backup.ModeFiles, []string{filepath.Join(src, "a.txt")}, t.TempDir(), tt.key)
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			if testutil.Exists(filepath.Join(res.Session.Folder, backup.KeyFileName)) {
				t.Error("session key file written without a sealed key")
			}
		})
	}
}

func TestStager_Stage_globCharactersInDestination(t *testing.T) {
	for _, dir := range []string{"my[backups", "all*", "what?"} {
		t.Run(dir, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, dir)
			src := t.TempDir()
			testutil.WriteFile(t, filepath.Join(src, "a.txt"), []byte("a"))
			// A sibling that a pattern match on dest would pick up.
			testutil.WriteFile(t, filepath.Join(parent, "allx", sessionName+".zip"), []byte("old"))

			s, _ := newTestStager(t, 1)
			res, err := s.Stage(context.Background(), backup.ModeFiles, []string{filepath.Join(src, "a.txt")}, dest, nil)
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			if res.Session.Name != sessionName {
				t.Errorf("session name = %q, want %q", res.Session.Name, sessionName)
			}
			if res.Session.Folder != filepath.Join(dest, sessionName) {
				t.Errorf("session folder = %q", res.Session.Folder)
			}
		})
	}
}

func TestTargetName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: string(filepath.Separator), want: "root"},
		{path: "/home/user/docs", want: "docs"},
		{path: "/home/user/notes.txt", want: "notes.txt"},
		{path: "/home/user/", want: "user"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := targetName(tt.path); got != tt.want {
				t.Errorf("targetName(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestStager_Stage_destinationInsideSource(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(src, "backups")
	testutil.WriteTree(t, src, map[string]string{
		"a.txt":         "alpha",
		"sub/b.txt":     "bravo",
		"backups/x.txt": "earlier backup",
	})

	s, logger := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFolders, []string{src}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	base := filepath.Base(src)
	got := relPaths(res.Items)
	sort.Strings(got)
	want := []string{base + "/a.txt", base + "/sub/b.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("items = %v, want %v", got, want)
	}

	var skipped []backup.Skip
	for _, sk := range res.Skips {
		if sk.Reason == backup.SkipDestination {
			skipped = append(skipped, sk)
		}
	}
	if len(skipped) != 1 || skipped[0].Path != dest {
		t.Errorf("destination skips = %+v, want one for %s", skipped, dest)
	}
	warn := logger.Find("skipped: backup destination")
	if len(warn) != 1 || warn[0].Level != "WARNING" {
		t.Errorf("destination skip log = %v", warn)
	}
	if testutil.Exists(filepath.Join(res.Session.Folder, base, "backups")) {
		t.Error("destination copied into the session")
	}
}

func TestStager_Stage_collectsFailures(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "good.txt"), []byte("good"))
	testutil.WriteFile(t, filepath.Join(src, "bad.txt"), []byte("bad"))
	testutil.WriteFile(t, filepath.Join(src, "also-good.txt"), []byte("also good"))

	enc := &testutil.FailingEncrypter{FailOn: "bad.txt"}
	s, logger := newTestStager(t, 2)
	res, err := s.Stage(context.Background(), backup.ModeFiles, []string{
		filepath.Join(src, "good.txt"),
		filepath.Join(src, "bad.txt"),
		filepath.Join(src, "also-good.txt"),
	}, dest, enc)

	var stageErr *backup.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Stage() error = %v, want *backup.StageError", err)
	}
	if len(stageErr.Failures) != 1 {
		t.Fatalf("failures = %v, want 1", stageErr.Failures)
	}
	f := stageErr.Failures[0]
	if f.Source != filepath.Join(src, "bad.txt") || f.Msg != "encryption failed" {
		t.Errorf("failure = %+v", f)
	}
	if !errors.Is(err, backup.ErrIO) {
		t.Errorf("failure kind = %v, want ErrIO", backup.KindOf(err))
	}

	if got := relPaths(res.Items); strings.Join(got, ",") != "good.txt,also-good.txt" {
		t.Errorf("siblings not staged: %v", got)
	}
	if len(enc.Paths()) != 2 {
		t.Errorf("encrypter saw %v", enc.Paths())
	}
	if len(logger.Find("encryption failed")) != 1 {
		t.Error("missing encryption failed log line")
	}
}

func TestStager_Stage_parallelMatchesSequential(t *testing.T) {
	src := t.TempDir()
	var sources []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		testutil.WriteTree(t, filepath.Join(src, name), map[string]string{
			"1.txt":   name + "1",
			"x/2.txt": name + "2",
		})
		sources = append(sources, filepath.Join(src, name))
	}
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), []byte("loose"))
	sources = append(sources, filepath.Join(src, "a.txt"))

	run := func(workers int) *backup.StageResult {
		s, _ := newTestStager(t, workers)
		res, err := s.Stage(context.Background(), backup.ModeFolders, sources, t.TempDir(), nil)
		if err != nil {
			t.Fatalf("Stage(workers=%d) error = %v", workers, err)
		}
		return res
	}

	seq := run(1)
	par := run(4)

	if strings.Join(relPaths(seq.Items), ",") != strings.Join(relPaths(par.Items), ",") {
		t.Errorf("parallel order %v differs from sequential %v", relPaths(par.Items), relPaths(seq.Items))
	}
	for i := range seq.Items {
		if seq.Items[i].Checksum != par.Items[i].Checksum {
			t.Errorf("%s checksum differs", seq.Items[i].RelPath)
		}
	}
}

func TestStager_Stage_canceled(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := newTestStager(t, 1)
	res, err := s.Stage(ctx, backup.ModeFiles, []string{filepath.Join(src, "a.txt")}, dest, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stage() error = %v, want context.Canceled", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("items = %v, want none", relPaths(res.Items))
	}

	// Nothing but the empty session folder may be left behind.
	entries, err := os.ReadDir(res.Session.Folder)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("session folder not empty: %v", names)
	}
}

func TestStager_Stage_database(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	dbPath := filepath.Join(src, "app.db")
	db, err := database.OpenConnection(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE kv (k TEXT, v TEXT); INSERT INTO kv VALUES ('a', '1'), ('b', '2')`); err != nil {
		t.Fatal(err)
	}
	// Keep the connection open: the snapshot must work against a live database.
	defer db.Close()

	s, logger := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeDatabase, []string{dbPath}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].RelPath != "app.db" {
		t.Fatalf("items = %v, want app.db", relPaths(res.Items))
	}
	if len(logger.Find("database snapshot taken")) != 1 {
		t.Error("database was not snapshotted")
	}

	snap, err := database.OpenConnection(res.Items[0].StagedPath)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()
	var n int
	if err := snap.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatalf("querying snapshot: %v", err)
	}
	if n != 2 {
		t.Errorf("snapshot has %d rows, want 2", n)
	}
}

func TestStager_Stage_databaseModeSkipsDirectories(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteTree(t, filepath.Join(src, "dir"), map[string]string{"a.txt": "a"})

	s, _ := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeDatabase, []string{filepath.Join(src, "dir")}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("items = %v, want none", relPaths(res.Items))
	}
	if len(res.Skips) != 1 || res.Skips[0].Reason != backup.SkipUnsupported {
		t.Errorf("skips = %v, want one unsupported", res.Skips)
	}
}

func TestStager_Stage_ignorePatterns(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	testutil.WriteTree(t, filepath.Join(src, "proj"), map[string]string{
		"main.go":         "package main",
		"debug.log":       "noise",
		"build/out.bin":   "binary",
		".backupignore":   "build\n",
		"keep/readme.txt": "keep",
	})

	logger := testutil.NewRecordingLogger()
	s := New(Options{
		Filesystem: fs.NewOSFilesystemManager([]string{"*.log"}),
		Logger:     logger,
		Clock:      testutil.FixedClock(),
	})
	res, err := s.Stage(context.Background(), backup.ModeFolders, []string{filepath.Join(src, "proj")}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	got := relPaths(res.Items)
	sort.Strings(got)
	want := []string{"proj/keep/readme.txt", "proj/main.go"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("items = %v, want %v", got, want)
	}
}

func TestStager_Stage_preservesMetadata(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := filepath.Join(src, "a.txt")
	testutil.WriteFile(t, path, []byte("content"))
	if err := os.Chmod(path, 0600); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	s, _ := newTestStager(t, 1)
	res, err := s.Stage(context.Background(), backup.ModeFiles, []string{path}, dest, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	info, err := os.Stat(res.Items[0].StagedPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}
}

func TestNameSet_claim(t *testing.T) {
	n := newNameSet()
	tests := []struct {
		base  string
		isDir bool
		want  string
	}{
		{"a.txt", false, "a.txt"},
		{"a.txt", false, "a_1.txt"},
		{"a_1.txt", false, "a_1_1.txt"},
		{"a.txt", false, "a_2.txt"},
		{"docs", true, "docs"},
		{"docs", true, "docs_1"},
		{".bashrc", false, ".bashrc"},
		{".bashrc", false, ".bashrc_1"},
		{"v1.2", true, "v1.2"},
		{"v1.2", true, "v1.2_1"},
	}
	for _, tt := range tests {
		if got := n.claim(tt.base, tt.isDir); got != tt.want {
			t.Errorf("claim(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
