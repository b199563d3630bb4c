package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestStoreWritesDatedKey(t *testing.T) {
	dir := t.TempDir()
	a := NewWithUploader(&localUploader{baseDir: dir})

	at := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
	loc, err := a.Store(context.Background(), "batch-1", "tarefas.csv", []byte("protocolo\n123\n"), at)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.Contains(loc, "2025") {
		t.Fatalf("expected dated path got %q", loc)
	}

	body, err := os.ReadFile(loc)
	if err != nil {
		t.Fatalf("read archived file: %v", err)
	}
	if string(body) != "protocolo\n123\n" {
		t.Fatalf("unexpected archived content %q", body)
	}
}

func TestStoreSanitizesFileName(t *testing.T) {
	dir := t.TempDir()
	a := NewWithUploader(&localUploader{baseDir: dir})

	at := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
	loc, err := a.Store(context.Background(), "batch-1", "../../etc/passwd", []byte("x"), at)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasPrefix(loc, dir) {
		t.Fatalf("expected archive under %q got %q", dir, loc)
	}
}
