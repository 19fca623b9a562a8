package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContentIgnoreEmpty(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := NewContentIgnore(tmpDir)
	if err != nil {
		t.Fatalf("new ignore: %v", err)
	}

	if c.Ignored(filepath.Join(tmpDir, "anything", "goes.md"), false) {
		t.Error("empty ignore should not match anything")
	}
}

func TestContentIgnorePatterns(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("*.log\nbuild/\nvendor/\n"), 0644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, IgnoreFilename), []byte("# keep one log\n!keep.log\nsecret.md\n"), 0644); err != nil {
		t.Fatalf("write .memignore: %v", err)
	}

	c, err := NewContentIgnore(tmpDir)
	if err != nil {
		t.Fatalf("new ignore: %v", err)
	}

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"debug.log", false, true},
		{"keep.log", false, false},
		{"build", true, true},
		{"docs/secret.md", false, true},
		{"docs/public.md", false, false},
		{"src/main.go", false, false},
	}

	for _, tt := range tests {
		if got := c.Ignored(filepath.Join(tmpDir, tt.path), tt.isDir); got != tt.want {
			t.Errorf("Ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if c.Ignored(filepath.Join(filepath.Dir(tmpDir), "outside.log"), false) {
		t.Error("paths outside the root should never be ignored")
	}
}
