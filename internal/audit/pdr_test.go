package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	root := t.TempDir()
	w := NewPDRWriter(root)
	defer w.Close()

	if err := w.Record("step.claim", map[string]string{"step": "a"}, "success", "a", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := w.Record("step.complete", map[string]string{"step": "a"}, "success", "a", "lock removal failed"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := w.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].InputsHash == "" {
		t.Error("Inputs hash not recorded")
	}

	// Journal lives under the coordination root
	if _, err := os.Stat(filepath.Join(root, "audit", "pdr.db")); err != nil {
		t.Errorf("Journal file missing: %v", err)
	}
}

func TestLazyOpen(t *testing.T) {
	root := t.TempDir()
	w := NewPDRWriter(root)
	defer w.Close()

	// No Record yet: nothing on disk
	if _, err := os.Stat(filepath.Join(root, "audit")); !os.IsNotExist(err) {
		t.Error("Journal directory created before first record")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *PDRWriter

	if err := w.Record("x", nil, "success", "", ""); err != nil {
		t.Errorf("Nil writer Record errored: %v", err)
	}
	if _, err := w.Recent(5); err != nil {
		t.Errorf("Nil writer Recent errored: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Nil writer Close errored: %v", err)
	}
}
