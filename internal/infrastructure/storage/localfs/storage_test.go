package localfs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

func TestSaveCreatesFolderAndOverwrites(t *testing.T) {
	root := t.TempDir()
	storage, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := storage.Save(ctx, "12.5_77.3_S1", "a.tif", strings.NewReader("first version")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := storage.Save(ctx, "12.5_77.3_S1", "a.tif", strings.NewReader("second")); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "12.5_77.3_S1", "a.tif"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Fatalf("expected overwritten content, got %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(root, "12.5_77.3_S1"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single file without temp leftovers, got %d", len(entries))
	}
}

func TestSaveRejectsPathTraversal(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, tc := range []struct{ folder, file string }{
		{"../escape", "a.tif"},
		{"ok", "../a.tif"},
		{"", "a.tif"},
		{"ok", ".."},
	} {
		err := storage.Save(context.Background(), tc.folder, tc.file, strings.NewReader("x"))
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Save(%q, %q): expected invalid input, got %v", tc.folder, tc.file, err)
		}
	}
}
