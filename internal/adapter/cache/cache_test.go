package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetInvalidatesOnFingerprintChange(t *testing.T) {
	c := New[string](10)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fp := Fingerprint{Size: 10, ModTime: base}

	c.Set("a", "decoded", fp)
	if got, ok := c.Get("a", fp); !ok || got != "decoded" {
		t.Fatalf("Get = %q,%v; want hit", got, ok)
	}

	grown := Fingerprint{Size: 20, ModTime: base}
	if _, ok := c.Get("a", grown); ok {
		t.Fatalf("Get with grown size hit, want miss")
	}
	if c.Len() != 0 {
		t.Fatalf("stale entry kept, Len = %d", c.Len())
	}

	c.Set("a", "decoded", fp)
	touched := Fingerprint{Size: 10, ModTime: base.Add(time.Second)}
	if _, ok := c.Get("a", touched); ok {
		t.Fatalf("Get with new mtime hit, want miss")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	fp := Fingerprint{Size: 1}

	c.Set("a", 1, fp)
	now = now.Add(time.Second)
	c.Set("b", 2, fp)
	now = now.Add(time.Second)
	c.Get("a", fp) // a is now more recent than b
	now = now.Add(time.Second)
	c.Set("c", 3, fp)

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("b", fp); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.Get("a", fp); !ok {
		t.Fatalf("a should be kept")
	}
}

func TestRetain(t *testing.T) {
	c := New[int](10)
	fp := Fingerprint{Size: 1}
	c.Set("keep", 1, fp)
	c.Set("gone", 2, fp)

	c.Retain(map[string]struct{}{"keep": {}})
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("keep", fp); !ok {
		t.Fatalf("keep missing")
	}
}

func TestStat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fp, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fp.Size != 3 {
		t.Fatalf("Size = %d, want 3", fp.Size)
	}
	if _, err := Stat(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("Stat of missing file succeeded")
	}
}
