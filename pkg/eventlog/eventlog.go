// Package eventlog manages the plain-text transcripts kept for each
// role-play event: one player-visible log and one GM log.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	subdir   = "rpevents"
	gmSubdir = "gm_logs"
)

// LogName returns the player log file name for an event.
func LogName(id int64) string { return fmt.Sprintf("event_log_%d.txt", id) }

// GMLogName returns the GM log file name for an event.
func GMLogName(id int64) string { return fmt.Sprintf("gm_event_log_%d.txt", id) }

// Dir is the root of the event log tree.
type Dir struct {
	root string
}

// NewDir returns a Dir storing logs under <root>/rpevents.
func NewDir(root string) *Dir {
	return &Dir{root: filepath.Join(root, subdir)}
}

// Root returns the directory the logs live in.
func (d *Dir) Root() string { return d.root }

// Path returns the full path of an event's player log.
func (d *Dir) Path(id int64) string {
	return filepath.Join(d.root, LogName(id))
}

// GMPath returns the full path of an event's GM log.
func (d *Dir) GMPath(id int64) string {
	return filepath.Join(d.root, gmSubdir, GMLogName(id))
}

// Open opens (creating if needed) both logs for an event in append mode.
func (d *Dir) Open(id int64) (*Pair, error) {
	if err := os.MkdirAll(filepath.Join(d.root, gmSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dirs: %w", err)
	}
	player, err := openAppend(d.Path(id))
	if err != nil {
		return nil, err
	}
	gm, err := openAppend(d.GMPath(id))
	if err != nil {
		player.Close()
		return nil, err
	}
	return &Pair{ID: id, player: player, gm: gm}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return f, nil
}

// ReadLog returns the player log for an event, or "" if none exists.
func (d *Dir) ReadLog(id int64) (string, error) {
	return readIfExists(d.Path(id))
}

// ReadGMLog returns the GM log for an event, or "" if none exists.
func (d *Dir) ReadGMLog(id int64) (string, error) {
	return readIfExists(d.GMPath(id))
}

func readIfExists(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("eventlog: read %s: %w", path, err)
	}
	return string(data), nil
}

// Pair holds the open log files of one event.
type Pair struct {
	ID int64

	mu     sync.Mutex
	player *os.File
	gm     *os.File
}

// Append writes a message to the player log, framed by newlines.
func (p *Pair) Append(msg string) error {
	return p.write(p.player, msg)
}

// AppendGM writes a message to the GM log, framed by newlines.
func (p *Pair) AppendGM(msg string) error {
	return p.write(p.gm, msg)
}

func (p *Pair) write(f *os.File, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f == nil {
		return fmt.Errorf("eventlog: log for event %d is closed", p.ID)
	}
	if _, err := f.WriteString("\n" + msg + "\n"); err != nil {
		return fmt.Errorf("eventlog: write event %d: %w", p.ID, err)
	}
	return nil
}

// Close closes both files. The files remain on disk.
func (p *Pair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, f := range []*os.File{p.player, p.gm} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("eventlog: close event %d: %w", p.ID, err)
		}
	}
	p.player, p.gm = nil, nil
	return first
}

// Names returns the player and GM log file names.
func (p *Pair) Names() (string, string) {
	return LogName(p.ID), GMLogName(p.ID)
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// StripANSI removes terminal escape sequences and game color markup.
// "{w", "|r" and friends are dropped; "{{" and "||" collapse to a single
// literal brace or bar.
func StripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	if !strings.ContainsAny(s, "{|") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c == '{' || c == '|') && i+1 < len(s) {
			next := s[i+1]
			switch {
			case next == c:
				b.WriteByte(c)
				i++
				continue
			case next == '[' && i+2 < len(s) && isMarkupCode(s[i+2]):
				i += 2
				continue
			case isMarkupCode(next):
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// isMarkupCode reports whether b follows a color marker. Letters cover
// colors and resets; '/' and '-' are line break and tab.
func isMarkupCode(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z':
		return true
	case b == '/', b == '-', b == '_', b == '*', b == '^':
		return true
	}
	return false
}
