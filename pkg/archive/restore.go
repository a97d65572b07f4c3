package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	goccy "github.com/goccy/go-json"
)

// RestoreParams names where each part of an archive goes. Empty
// destinations are skipped.
type RestoreParams struct {
	ArchivePath string
	BoltDest    string
	SQLDest     string
	LogDest     string // directory
	ConfDest    string
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	FilesRestored int
	Warnings      []string
}

// Restore unpacks an archive to a scratch directory, checks every file
// against the manifest and only then copies files into place. A config
// file already at ConfDest is kept; the archived one is written beside it
// with a .restored suffix.
func Restore(p RestoreParams) (*RestoreResult, error) {
	scratch, err := os.MkdirTemp("", "rpevents-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := walkArchive(p.ArchivePath, unpackInto(scratch)); err != nil {
		return nil, fmt.Errorf("restore: extract %s: %w", p.ArchivePath, err)
	}
	if err := verify(scratch); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	res := &RestoreResult{}
	place := func(entry, dest string) error {
		src := filepath.Join(scratch, filepath.FromSlash(entry))
		if dest == "" || !exists(src) {
			return nil
		}
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("restore: %s to %s: %w", entry, dest, err)
		}
		res.FilesRestored++
		return nil
	}

	if err := place(boltEntry, p.BoltDest); err != nil {
		return nil, err
	}
	if err := place(sqlEntry, p.SQLDest); err != nil {
		return nil, err
	}
	if logs := filepath.Join(scratch, logPrefix); p.LogDest != "" && isDir(logs) {
		n, err := copyTree(logs, p.LogDest)
		if err != nil {
			return nil, fmt.Errorf("restore: logs: %w", err)
		}
		res.FilesRestored += n
	}
	entry := confPrefix + "/" + filepath.Base(p.ConfDest)
	if p.ConfDest != "" && exists(filepath.Join(scratch, filepath.FromSlash(entry))) {
		dest := p.ConfDest
		if exists(dest) {
			dest += ".restored"
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("kept current %s; archived copy written to %s", filepath.Base(p.ConfDest), dest))
		}
		if err := place(entry, dest); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// unpackInto writes regular entries below dir and refuses any entry whose
// path would land outside it.
func unpackInto(dir string) func(*tar.Header, io.Reader) error {
	root := filepath.Clean(dir) + string(os.PathSeparator)
	return func(hdr *tar.Header, r io.Reader) error {
		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("entry %q escapes the archive root", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			return writeTo(target, r)
		}
		return nil
	}
}

// verify checks every file listed in the unpacked manifest.
func verify(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, manifestEntry))
	if err != nil {
		return fmt.Errorf("archive has no %s", manifestEntry)
	}
	var m Manifest
	if err := goccy.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	for name, want := range m.Files {
		got, err := fileSHA256(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return fmt.Errorf("checksum %s: %w", name, err)
		}
		if got != want.SHA256 {
			return fmt.Errorf("checksum mismatch for %s", name)
		}
	}
	return nil
}

// copyTree copies every file below src into dst and returns the count.
func copyTree(src, dst string) (int, error) {
	n := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(dst, rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
