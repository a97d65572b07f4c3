package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	goccy "github.com/goccy/go-json"
)

// writer streams files into a gzipped tar and records a checksum for each.
type writer struct {
	out   *os.File
	gz    *gzip.Writer
	tw    *tar.Writer
	files map[string]FileEntry
}

func newWriter(path string) (*writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)
	return &writer{out: f, gz: gz, tw: tar.NewWriter(gz), files: map[string]FileEntry{}}, nil
}

func (w *writer) addFile(src, name, kind string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", src, err)
	}

	hdr := &tar.Header{Name: filepath.ToSlash(name), Size: info.Size(), Mode: 0o644, ModTime: info.ModTime()}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: header %s: %w", hdr.Name, err)
	}
	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(w.tw, sum), f)
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", hdr.Name, err)
	}
	w.files[hdr.Name] = FileEntry{SHA256: hex.EncodeToString(sum.Sum(nil)), Size: n, Type: kind}
	return nil
}

// addTree adds every regular file below root under prefix.
func (w *writer) addTree(root, prefix, kind string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return w.addFile(path, prefix+"/"+filepath.ToSlash(rel), kind)
	})
}

// finish appends the manifest, which must come after every checksum is
// known, and closes the archive.
func (w *writer) finish(m Manifest, now time.Time) error {
	m.Files = w.files
	data, err := goccy.MarshalIndent(m, "", "  ")
	if err != nil {
		w.abort()
		return fmt.Errorf("archive: encode manifest: %w", err)
	}
	err = w.tw.WriteHeader(&tar.Header{Name: manifestEntry, Size: int64(len(data)), Mode: 0o644, ModTime: now})
	if err == nil {
		_, err = w.tw.Write(data)
	}
	if err == nil {
		err = w.tw.Close()
	}
	if err == nil {
		err = w.gz.Close()
	}
	if cerr := w.out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	return nil
}

func (w *writer) abort() {
	w.out.Close()
}

// walkArchive calls fn for every entry of a .tar.gz. fn may return
// errStopWalk to end the walk early without error.
func walkArchive(path string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hdr, tr); err != nil {
			if errors.Is(err, errStopWalk) {
				return nil
			}
			return err
		}
	}
}

var errStopWalk = errors.New("stop walk")

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeTo(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeTo(dst, in)
}
