package store

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/config"
)

var _ codex.CredentialStore = (*FileStore)(nil)
var _ codex.CredentialStore = (*PostgresStore)(nil)
var _ codex.CredentialStore = (*ObjectStore)(nil)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "codex.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	cred, err := s.Load(ctx)
	if err != nil || cred != nil {
		t.Fatalf("missing file should load as absent, got %+v, %v", cred, err)
	}

	want := &codex.Credential{Access: "a", Refresh: "r", Expires: time.UnixMilli(1_700_000_000_123), AccountID: "acct"}
	if err = s.Save(ctx, want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Access != want.Access || got.Refresh != want.Refresh || got.AccountID != want.AccountID || !got.Expires.Equal(want.Expires) {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}

	if runtime.GOOS != "windows" {
		info, errStat := os.Stat(path)
		if errStat != nil {
			t.Fatalf("stat credential: %v", errStat)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("credential permissions = %o, want 600", perm)
		}
	}

	if err = s.Delete(ctx); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err = s.Delete(ctx); err != nil {
		t.Fatalf("second Delete error: %v", err)
	}
	if cred, _ = s.Load(ctx); cred != nil {
		t.Fatalf("credential still present after delete: %+v", cred)
	}
}

func TestFileStoreSaveReplacesWholesale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "codex.json"))
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if err = s.Save(ctx, &codex.Credential{Access: "a1", Refresh: "r1", Expires: time.UnixMilli(1), AccountID: "acct"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err = s.Save(ctx, &codex.Credential{Access: "a2", Refresh: "r2", Expires: time.UnixMilli(2)}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Access != "a2" || got.AccountID != "" {
		t.Fatalf("credential was merged instead of replaced: %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestFileStoreTreatsUnrecognizedDocumentsAsAbsent(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":      "{{{",
		"wrong type":    `{"type":"api_key","access":"a","refresh":"r","expires":1}`,
		"missing field": `{"type":"oauth","access":"a","expires":1}`,
		"numeric token": `{"type":"oauth","access":1,"refresh":"r","expires":1}`,
		"empty":         "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "codex.json")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			s, err := NewFileStore(path)
			if err != nil {
				t.Fatalf("NewFileStore error: %v", err)
			}
			cred, err := s.Load(context.Background())
			if err != nil || cred != nil {
				t.Fatalf("Load = %+v, %v; want absent", cred, err)
			}
		})
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewFileStore("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenDefaultsToFileStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{AuthDir: dir}
	cfg.ApplyDefaults()

	s, closeFn, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer func() { _ = closeFn() }()

	fs, ok := s.(*FileStore)
	if !ok {
		t.Fatalf("Open returned %T, want *FileStore", s)
	}
	if want := filepath.Join(dir, config.DefaultCredentialFile); fs.Path() != want {
		t.Fatalf("path = %s, want %s", fs.Path(), want)
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Store: config.StoreConfig{Type: "redis"}}
	if _, closeFn, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown store type")
	} else if closeFn == nil {
		t.Fatal("close function must never be nil")
	}
}
