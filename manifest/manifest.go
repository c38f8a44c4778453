// Package manifest implements the on-disk description of a trained
// dictionary: a small text file next to the dictionary bytes, written
// atomically so a crash can never publish a half-visible artifact.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/dictgo/internal/fs"
)

const (
	// DictSuffix and ManifestSuffix are the artifact file extensions.
	DictSuffix     = ".dict"
	ManifestSuffix = ".mf"
)

// ErrMissingDictFile marks a manifest without the mandatory dict_file key.
var ErrMissingDictFile = fmt.Errorf("manifest: missing dict_file")

// Manifest describes one persisted dictionary.
//
// ID 0 means "not yet assigned"; ids are handed out at scan time, never at
// training time. A zero Retired timestamp means the dictionary is active.
type Manifest struct {
	ID         uint16
	DictFile   string
	Namespaces []string
	Created    time.Time
	Level      int
	Signature  string
	Retired    time.Time
}

// Active reports whether the dictionary has not been retired.
func (m *Manifest) Active() bool { return m.Retired.IsZero() }

// Parse decodes the key=value manifest text. Unknown keys are ignored so
// newer writers stay compatible with older readers. A missing dict_file is
// fatal for the entry.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "id":
			n, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("manifest: bad id %q: %w", val, err)
			}
			m.ID = uint16(n)
		case "dict_file":
			m.DictFile = val
		case "namespaces":
			for _, ns := range strings.Split(val, ",") {
				if ns = strings.TrimSpace(ns); ns != "" {
					m.Namespaces = append(m.Namespaces, ns)
				}
			}
		case "created":
			ts, err := time.Parse(time.RFC3339, val)
			if err != nil {
				return nil, fmt.Errorf("manifest: bad created %q: %w", val, err)
			}
			m.Created = ts.UTC()
		case "level":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("manifest: bad level %q: %w", val, err)
			}
			m.Level = n
		case "signature":
			m.Signature = val
		case "retired":
			if val == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, val)
			if err != nil {
				return nil, fmt.Errorf("manifest: bad retired %q: %w", val, err)
			}
			m.Retired = ts.UTC()
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if m.DictFile == "" {
		return nil, ErrMissingDictFile
	}
	if len(m.Namespaces) == 0 {
		m.Namespaces = []string{"default"}
	}
	return m, nil
}

// Render encodes the manifest back to its textual form. An unassigned id and
// an unset retired timestamp are omitted rather than written as zeros.
func (m *Manifest) Render() []byte {
	var b bytes.Buffer
	b.WriteString("# zstd dictionary manifest\n")
	if m.ID != 0 {
		fmt.Fprintf(&b, "id=%d\n", m.ID)
	}
	fmt.Fprintf(&b, "dict_file=%s\n", m.DictFile)
	fmt.Fprintf(&b, "namespaces=%s\n", strings.Join(m.Namespaces, ","))
	if !m.Created.IsZero() {
		fmt.Fprintf(&b, "created=%s\n", m.Created.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "level=%d\n", m.Level)
	if m.Signature != "" {
		fmt.Fprintf(&b, "signature=%s\n", m.Signature)
	}
	if !m.Retired.IsZero() {
		fmt.Fprintf(&b, "retired=%s\n", m.Retired.UTC().Format(time.RFC3339))
	}
	return b.Bytes()
}

// Entry pairs a parsed manifest with the paths of its artifacts.
type Entry struct {
	Manifest *Manifest
	MFPath   string
	DictPath string
}

// Store reads and writes dictionary artifacts inside one directory.
type Store struct {
	dir  string
	fsys fs.FileSystem
}

// NewStore returns a store over dir. A nil filesystem means the local one.
func NewStore(dir string, fsys fs.FileSystem) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Store{dir: dir, fsys: fsys}
}

// Dir returns the managed directory.
func (s *Store) Dir() string { return s.dir }

// DictPath resolves the manifest's dict_file against the store directory.
func (s *Store) DictPath(m *Manifest) string {
	if filepath.IsAbs(m.DictFile) {
		return m.DictFile
	}
	return filepath.Join(s.dir, m.DictFile)
}

// SaveNew persists freshly trained dictionary bytes and their manifest under
// the given basename. The dictionary lands on disk before the manifest, so a
// scanner never sees a manifest pointing at a missing artifact. The id field
// is not persisted here; scan assigns and rewrites it.
func (s *Store) SaveNew(dict []byte, m *Manifest, basename string) (Entry, error) {
	if err := s.fsys.MkdirAll(s.dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("manifest: mkdir %s: %w", s.dir, err)
	}

	dictPath := filepath.Join(s.dir, basename+DictSuffix)
	mfPath := filepath.Join(s.dir, basename+ManifestSuffix)

	m.DictFile = basename + DictSuffix

	if err := fs.WriteAtomic(s.fsys, dictPath, dict, 0o644); err != nil {
		return Entry{}, fmt.Errorf("manifest: write dict: %w", err)
	}

	persist := *m
	persist.ID = 0
	if err := fs.WriteAtomic(s.fsys, mfPath, persist.Render(), 0o644); err != nil {
		s.fsys.Remove(dictPath)
		return Entry{}, fmt.Errorf("manifest: write manifest: %w", err)
	}

	return Entry{Manifest: m, MFPath: mfPath, DictPath: dictPath}, nil
}

// Rewrite atomically replaces the manifest at path with the current state of
// m, including its id.
func (s *Store) Rewrite(path string, m *Manifest) error {
	return fs.WriteAtomic(s.fsys, path, m.Render(), 0o644)
}

// Scan parses every manifest in the directory. Corrupt manifests are
// reported through the skipped callback (which may be nil) and do not fail
// the scan. A missing directory yields an empty result.
func (s *Store) Scan(skipped func(path string, err error)) ([]Entry, error) {
	entries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: scan %s: %w", s.dir, err)
	}

	var out []Entry
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ManifestSuffix) {
			continue
		}
		mfPath := filepath.Join(s.dir, name)
		data, err := fs.ReadFile(s.fsys, mfPath)
		if err == nil {
			var m *Manifest
			m, err = Parse(data)
			if err == nil {
				out = append(out, Entry{Manifest: m, MFPath: mfPath, DictPath: s.DictPath(m)})
				continue
			}
		}
		if skipped != nil {
			skipped(mfPath, err)
		}
	}
	return out, nil
}
