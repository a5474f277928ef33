package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := Validate(text)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "notes.txt" || info.Size != 5 || !strings.HasPrefix(info.Type, "text/plain") {
		t.Errorf("unexpected info %+v", info)
	}
	if !filepath.IsAbs(info.Path) {
		t.Errorf("expected absolute path, got %s", info.Path)
	}

	info, err = Validate(empty)
	if err != nil {
		t.Fatalf("empty files should be accepted: %v", err)
	}
	if info.Size != 0 {
		t.Errorf("expected size 0, got %d", info.Size)
	}
}

func TestValidateRejects(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"empty path": "",
		"missing":    filepath.Join(dir, "nope.txt"),
		"directory":  dir,
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Validate(path); err == nil {
				t.Errorf("expected error for %q", path)
			}
		})
	}
}

func TestDetectType(t *testing.T) {
	if got := DetectType("archive.unknownext"); got != "application/octet-stream" {
		t.Errorf("expected octet-stream fallback, got %s", got)
	}
	if got := DetectType("page.html"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("expected text/html, got %s", got)
	}
}
