package storage

import (
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to the database while it is open.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// Locations names the on-disk data of a running tracker. Empty fields are skipped.
type Locations struct {
	DatabasePath string
	IndexPath    string
	DropDir      string
	// RejectedDir lives under DropDir and is measured apart from pending drops.
	RejectedDir string
}

// Footprint is the size in bytes of each location.
type Footprint struct {
	Database     int64 `json:"database"`
	Index        int64 `json:"index"`
	DropPending  int64 `json:"drop_pending"`
	DropRejected int64 `json:"drop_rejected"`
}

// Total sums every location.
func (f Footprint) Total() int64 {
	return f.Database + f.Index + f.DropPending + f.DropRejected
}

// Measure sizes each location. Missing paths count as zero.
func Measure(loc Locations) (Footprint, error) {
	var fp Footprint
	var err error
	if loc.DatabasePath != "" {
		paths := []string{loc.DatabasePath}
		for _, suffix := range sqliteSidecars {
			paths = append(paths, loc.DatabasePath+suffix)
		}
		if fp.Database, err = sizeOf(paths, ""); err != nil {
			return Footprint{}, err
		}
	}
	if fp.Index, err = sizeOf([]string{loc.IndexPath}, ""); err != nil {
		return Footprint{}, err
	}
	if fp.DropPending, err = sizeOf([]string{loc.DropDir}, loc.RejectedDir); err != nil {
		return Footprint{}, err
	}
	if fp.DropRejected, err = sizeOf([]string{loc.RejectedDir}, ""); err != nil {
		return Footprint{}, err
	}
	return fp, nil
}

// sizeOf sums files and directory trees, leaving out the skip subtree.
func sizeOf(paths []string, skip string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.Walk(p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if skip != "" && filepath.Clean(path) == filepath.Clean(skip) {
					return filepath.SkipDir
				}
				return nil
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
