package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMeasure(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cases.db")
	index := filepath.Join(dir, "cases.bleve")
	drop := filepath.Join(dir, "drop")
	rejected := filepath.Join(drop, ".rejected")

	writeBytes(t, db, 100)
	writeBytes(t, db+"-wal", 20)
	writeBytes(t, db+"-shm", 3)
	writeBytes(t, filepath.Join(index, "store", "root.bolt"), 40)
	writeBytes(t, filepath.Join(index, "index_meta.json"), 2)
	writeBytes(t, filepath.Join(drop, "C-AAAA0001", "dpi.pdf"), 7)
	writeBytes(t, filepath.Join(drop, "C-BBBB0002", "selfie.png"), 5)
	writeBytes(t, filepath.Join(rejected, "C-GONE0000", "dpi.pdf"), 11)

	fp, err := Measure(Locations{DatabasePath: db, IndexPath: index, DropDir: drop, RejectedDir: rejected})
	if err != nil {
		t.Fatal(err)
	}
	want := Footprint{Database: 123, Index: 42, DropPending: 12, DropRejected: 11}
	if fp != want {
		t.Errorf("footprint = %+v, want %+v", fp, want)
	}
	if fp.Total() != 188 {
		t.Errorf("total = %d, want 188", fp.Total())
	}
}

func TestMeasure_missingAndEmptyLocations(t *testing.T) {
	dir := t.TempDir()
	fp, err := Measure(Locations{
		DatabasePath: filepath.Join(dir, "absent.db"),
		DropDir:      filepath.Join(dir, "no-drop"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if fp != (Footprint{}) {
		t.Errorf("footprint = %+v, want zero", fp)
	}
}

func TestMeasure_sqliteDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cases.db")
	s, err := NewSQLiteStorage(db)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	fp, err := Measure(Locations{DatabasePath: db})
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(db)
	if err != nil {
		t.Fatal(err)
	}
	if fp.Database < info.Size() || fp.Index != 0 {
		t.Errorf("footprint = %+v, database file is %d bytes", fp, info.Size())
	}
}
