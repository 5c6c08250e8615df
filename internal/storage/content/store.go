// Package content is the on-disk store for content-addressed files and their
// swarm descriptors.
package content

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"charasync/internal/domain"
)

const (
	filesDir    = "Files"
	torrentsDir = "Torrents"
	piecesDir   = "TorrentCache"
	stateDir    = "State"

	descriptorExt = ".torrent"
	fallbackDir   = "charasync"
)

// Dirs are the directories owned by a store.
type Dirs struct {
	Root     string `json:"root"`
	Files    string `json:"files"`
	Torrents string `json:"torrents"`
	Pieces   string `json:"pieces"`
	State    string `json:"state"`
}

func NewDirs(root string) Dirs {
	return Dirs{
		Root:     root,
		Files:    filepath.Join(root, filesDir),
		Torrents: filepath.Join(root, torrentsDir),
		Pieces:   filepath.Join(root, piecesDir),
		State:    filepath.Join(root, stateDir),
	}
}

func (d Dirs) all() []string {
	return []string{d.Files, d.Torrents, d.Pieces, d.State}
}

type Store struct {
	dirs   Dirs
	locks  *keyedMutex
	logger *slog.Logger
}

// Open prepares the store under root. An unwritable root falls back to a
// directory under the system temp dir.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		root = "data"
	}
	if !writable(root) {
		fallback := filepath.Join(os.TempDir(), fallbackDir)
		logger.Warn("content store: cache dir not writable, using temp dir",
			slog.String("dir", root),
			slog.String("fallback", fallback),
		)
		root = fallback
	}

	dirs := NewDirs(root)
	for _, dir := range dirs.all() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("content store: create %s: %w", dir, err)
		}
	}
	return &Store{dirs: dirs, locks: newKeyedMutex(), logger: logger}, nil
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return true
}

func (s *Store) Dirs() Dirs { return s.dirs }

func (s *Store) FilePath(hash domain.ContentHash, ext string) string {
	return filepath.Join(s.dirs.Files, domain.ObjectName(hash, ext))
}

// Has reports whether the content is present. Only verified content is ever
// renamed into the files directory, so presence implies completeness.
func (s *Store) Has(hash domain.ContentHash, ext string) bool {
	info, err := os.Stat(s.FilePath(hash, ext))
	return err == nil && info.Mode().IsRegular()
}

// Lookup finds the content under any extension.
func (s *Store) Lookup(hash domain.ContentHash) (string, string, bool) {
	matches, err := filepath.Glob(filepath.Join(s.dirs.Files, hash.String()+"*"))
	if err != nil {
		return "", "", false
	}
	for _, m := range matches {
		name := filepath.Base(m)
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		ext := strings.TrimPrefix(name, hash.String())
		if ext != "" && !strings.HasPrefix(ext, ".") {
			continue
		}
		return m, ext, true
	}
	return "", "", false
}

// Import copies src into the store under its canonical name, verifying the
// bytes against hash while copying.
func (s *Store) Import(src string, hash domain.ContentHash, ext string) error {
	if s.Has(hash, ext) {
		return nil
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrSourceMissing, src)
		}
		return err
	}
	defer f.Close()
	return s.Ingest(f, hash, ext)
}

// Ingest writes r to a temp file, verifies the hash, and renames it into place.
func (s *Store) Ingest(r io.Reader, hash domain.ContentHash, ext string) error {
	if s.Has(hash, ext) {
		return nil
	}
	tmp, err := os.CreateTemp(s.dirs.Files, "."+hash.Short()+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	got, _, err := domain.HashReader(io.TeeReader(r, tmp))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if got != hash {
		return fmt.Errorf("%w: want %s, got %s", domain.ErrHashMismatch, hash.Short(), got.Short())
	}
	return os.Rename(tmpName, s.FilePath(hash, ext))
}

// Open returns a reader over stored content.
func (s *Store) Open(hash domain.ContentHash, ext string) (*os.File, error) {
	f, err := os.Open(s.FilePath(hash, ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// ReadAt reads len(p) bytes of stored content starting at off.
func (s *Store) ReadAt(hash domain.ContentHash, ext string, p []byte, off int64) (int, error) {
	f, err := s.Open(hash, ext)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(p, off)
}

func (s *Store) Size(hash domain.ContentHash, ext string) (int64, error) {
	info, err := os.Stat(s.FilePath(hash, ext))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *Store) descriptorPath(hash domain.ContentHash) string {
	return filepath.Join(s.dirs.Torrents, hash.String()+descriptorExt)
}

func (s *Store) SaveDescriptor(hash domain.ContentHash, data []byte) error {
	if len(data) == 0 {
		return errors.New("content store: empty descriptor")
	}
	tmp, err := os.CreateTemp(s.dirs.Torrents, "."+hash.Short()+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.descriptorPath(hash))
}

func (s *Store) LoadDescriptor(hash domain.ContentHash) ([]byte, bool, error) {
	data, err := os.ReadFile(s.descriptorPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Lock serializes registration of one hash. The returned func releases it.
func (s *Store) Lock(hash domain.ContentHash) func() {
	return s.locks.lock(hash)
}
