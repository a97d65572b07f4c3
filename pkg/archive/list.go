package archive

import (
	"archive/tar"
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	goccy "github.com/goccy/go-json"
)

// Info is one archive as shown by List.
type Info struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name,omitempty"`
	Events    int    `json:"events"`
}

// List returns the archives in dir, newest first. An archive without a
// readable manifest is listed by its modification time.
func List(dir string) ([]Info, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.tar.gz"))
	if err != nil {
		return nil, fmt.Errorf("archive: list %s: %w", dir, err)
	}
	out := make([]Info, 0, len(paths))
	for _, path := range paths {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		info := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format(time.RFC3339),
		}
		if m, err := ReadManifest(path); err == nil {
			info.Timestamp, info.Name, info.Events = m.Timestamp, m.Name, m.Events
		}
		out = append(out, info)
	}
	// UTC RFC 3339 strings order the same as the times they encode.
	slices.SortFunc(out, func(a, b Info) int { return cmp.Compare(b.Timestamp, a.Timestamp) })
	return out, nil
}

// Prune keeps the newest retain archives in dir and deletes the rest,
// returning the deleted paths. retain <= 0 keeps everything.
func Prune(dir string, retain int) ([]string, error) {
	if retain <= 0 {
		return nil, nil
	}
	all, err := List(dir)
	if err != nil || len(all) <= retain {
		return nil, err
	}
	var removed []string
	for _, old := range all[retain:] {
		if err := os.Remove(old.Path); err != nil {
			return removed, fmt.Errorf("archive: prune %s: %w", old.Filename, err)
		}
		removed = append(removed, old.Path)
	}
	return removed, nil
}

// ReadManifest returns the manifest stored in an archive.
func ReadManifest(path string) (*Manifest, error) {
	var m *Manifest
	err := walkArchive(path, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name != manifestEntry {
			return nil
		}
		m = new(Manifest)
		if err := goccy.NewDecoder(r).Decode(m); err != nil {
			return err
		}
		return errStopWalk
	})
	if err != nil {
		return nil, fmt.Errorf("archive: read manifest of %s: %w", path, err)
	}
	if m == nil {
		return nil, fmt.Errorf("archive: %s has no %s", path, manifestEntry)
	}
	return m, nil
}
