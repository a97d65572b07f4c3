// Package archive writes and restores .tar.gz backups of the event
// scheduler's data: the bbolt world and scheduler state, the SQLite event
// database, the event log directory and the config file.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry names inside an archive.
const (
	boltEntry     = "data/world.bolt"
	sqlEntry      = "data/events.sqlite"
	logPrefix     = "logs"
	confPrefix    = "conf"
	manifestEntry = "manifest.json"
)

const manifestVersion = 1

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	Name      string               `json:"name"`
	Events    int                  `json:"events"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry is the checksum record for one archived file. Type is one of
// "bolt", "sql", "log" or "conf".
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"`
}

// Params holds everything Create needs. Any source left empty or nil is
// left out of the archive.
type Params struct {
	BoltSnapshotFunc  func(destPath string) error // consistent copy of the live bbolt file
	SQLPath           string
	SQLCheckpointFunc func() error // folds the WAL into SQLPath before it is copied
	LogDir            string
	ConfPath          string
	Dir               string // where archives are written
	Name              string
	Events            int
	Now               time.Time // zero means time.Now()
}

func (p Params) stamp() time.Time {
	if p.Now.IsZero() {
		return time.Now()
	}
	return p.Now
}

// FileName is the archive name Create uses for a backup taken at t.
func FileName(t time.Time) string {
	return "backup-" + t.Format("20060102-150405") + ".tar.gz"
}

// Create writes a .tar.gz archive into p.Dir and returns its path. A
// failed create leaves no partial archive behind.
func Create(p Params) (string, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}
	now := p.stamp()

	staging, err := os.MkdirTemp("", "rpevents-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	// Databases are copied aside first so the tar never reads a file that
	// is still changing.
	staged, err := stageDatabases(p, staging)
	if err != nil {
		return "", err
	}

	path := filepath.Join(p.Dir, FileName(now))
	w, err := newWriter(path)
	if err != nil {
		return "", err
	}
	err = fill(w, p, staged)
	if err == nil {
		err = w.finish(Manifest{
			Version:   manifestVersion,
			Server:    "rpevents",
			Timestamp: now.UTC().Format(time.RFC3339),
			Name:      p.Name,
			Events:    p.Events,
		}, now)
	} else {
		w.abort()
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// stagedFile is a source file paired with its archive name and kind.
type stagedFile struct{ src, name, kind string }

func stageDatabases(p Params, staging string) ([]stagedFile, error) {
	var out []stagedFile
	if p.BoltSnapshotFunc != nil {
		dst := filepath.Join(staging, "world.bolt")
		if err := p.BoltSnapshotFunc(dst); err != nil {
			return nil, fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		out = append(out, stagedFile{dst, boltEntry, "bolt"})
	}
	if p.SQLPath != "" {
		if p.SQLCheckpointFunc != nil {
			if err := p.SQLCheckpointFunc(); err != nil {
				return nil, fmt.Errorf("archive: sql checkpoint: %w", err)
			}
		}
		dst := filepath.Join(staging, "events.sqlite")
		if err := copyFile(p.SQLPath, dst); err != nil {
			return nil, fmt.Errorf("archive: copy sql: %w", err)
		}
		out = append(out, stagedFile{dst, sqlEntry, "sql"})
	}
	return out, nil
}

func fill(w *writer, p Params, staged []stagedFile) error {
	for _, f := range staged {
		if err := w.addFile(f.src, f.name, f.kind); err != nil {
			return err
		}
	}
	if isDir(p.LogDir) {
		if err := w.addTree(p.LogDir, logPrefix, "log"); err != nil {
			return err
		}
	}
	if p.ConfPath != "" && exists(p.ConfPath) {
		return w.addFile(p.ConfPath, confPrefix+"/"+filepath.Base(p.ConfPath), "conf")
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
