// Package storage implements component C4: the per-source on-disk layout
// (content, TOC metadata, TOML metadata, archives, index directory) with
// atomic writes and a per-source advisory lock. It follows the directory
// conventions and error-wrapping style of the teacher's
// pkg/repo/docstore.Store, generalized from a per-document tree to the
// single-file-per-source layout spec.md §4.3 describes.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sys/unix"

	"github.com/blzsearch/blz/pkg/blz"
)

const (
	contentFile    = "llms.txt"
	tocFile        = "llms.json"
	metadataFile   = "metadata.toml"
	archiveDir     = "archive"
	indexDirName   = ".index"
	lockFile       = ".lock"
	refreshLogFile = "refresh.log.jsonl"

	// DefaultMaxArchives is the default bound on retained archive snapshots.
	DefaultMaxArchives = 10

	archiveTimeLayout = "20060102T150405Z"
)

// Store manages the per-source directory tree rooted at a data directory.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*os.File
}

// New creates a Store rooted at root, creating the directory if absent.
func New(root string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Store{root: absRoot, locks: make(map[string]*os.File)}, nil
}

// DefaultRoot resolves the platform user-data directory for blz, honoring
// XDG_DATA_HOME when set.
func DefaultRoot() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "blz"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "blz"), nil
}

// Root returns the Store's resolved data root.
func (s *Store) Root() string { return s.root }

func (s *Store) sourceDir(alias string) string {
	return filepath.Join(s.root, alias)
}

// validateAlias rejects aliases that would escape the root via traversal,
// following the teacher's validatePath discipline.
func (s *Store) validateAlias(alias string) error {
	if alias == "" || strings.ContainsAny(alias, "/\\") || alias == "." || alias == ".." {
		return fmt.Errorf("%w: %q", blz.ErrInvalidCitation, alias)
	}

	joined := filepath.Join(s.root, alias)

	resolved, err := filepath.Abs(joined)
	if err != nil {
		return fmt.Errorf("resolve alias path: %w", err)
	}

	if !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return fmt.Errorf("alias escapes storage root: %q", alias)
	}

	return nil
}

// Lock acquires the per-source advisory write lock, returning a release
// function. A second Lock call for the same alias before release fails
// with blz.ErrBusy, matching spec.md §4.3's "only one writer per source".
func (s *Store) Lock(alias string) (func(), error) {
	if err := s.validateAlias(alias); err != nil {
		return nil, err
	}

	dir := s.sourceDir(alias)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create source directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("%w: %s", blz.ErrBusy, alias)
	}

	s.mu.Lock()
	s.locks[alias] = f
	s.mu.Unlock()

	release := func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		s.mu.Lock()
		delete(s.locks, alias)
		s.mu.Unlock()
	}

	return release, nil
}

// writeAtomic writes data to a uuid-suffixed temporary file in dir and
// renames it over target, per spec.md §4.3's atomic-update invariant.
func writeAtomic(dir, target string, data []byte) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(target), uuid.NewString()))

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("rename into place: %w", err)
	}

	return nil
}

// ReadContent returns a source's verbatim llms.txt bytes.
func (s *Store) ReadContent(alias string) ([]byte, error) {
	if err := s.validateAlias(alias); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.sourceDir(alias), contentFile))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	return data, nil
}

// WriteContent atomically replaces a source's llms.txt.
func (s *Store) WriteContent(alias string, data []byte) error {
	if err := s.validateAlias(alias); err != nil {
		return err
	}

	dir := s.sourceDir(alias)

	return writeAtomic(dir, filepath.Join(dir, contentFile), data)
}

// ReadMetadata loads metadata.toml for a source.
func (s *Store) ReadMetadata(alias string) (blz.Source, error) {
	if err := s.validateAlias(alias); err != nil {
		return blz.Source{}, err
	}

	data, err := os.ReadFile(filepath.Join(s.sourceDir(alias), metadataFile))
	if err != nil {
		return blz.Source{}, fmt.Errorf("read metadata: %w", err)
	}

	var src blz.Source
	if err := toml.Unmarshal(data, &src); err != nil {
		return blz.Source{}, fmt.Errorf("%w: %s", blz.ErrSchemaMismatch, err)
	}

	src.Alias = alias

	return src, nil
}

// WriteMetadata atomically replaces metadata.toml for a source.
func (s *Store) WriteMetadata(alias string, src blz.Source) error {
	if err := s.validateAlias(alias); err != nil {
		return err
	}

	data, err := toml.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	dir := s.sourceDir(alias)

	return writeAtomic(dir, filepath.Join(dir, metadataFile), data)
}

// ReadTOC loads llms.json for a source.
func (s *Store) ReadTOC(alias string) (blz.TOCDocument, error) {
	if err := s.validateAlias(alias); err != nil {
		return blz.TOCDocument{}, err
	}

	data, err := os.ReadFile(filepath.Join(s.sourceDir(alias), tocFile))
	if err != nil {
		return blz.TOCDocument{}, fmt.Errorf("read toc: %w", err)
	}

	var doc blz.TOCDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return blz.TOCDocument{}, fmt.Errorf("%w: %s", blz.ErrSchemaMismatch, err)
	}

	return doc, nil
}

// WriteTOC atomically replaces llms.json for a source.
func (s *Store) WriteTOC(alias string, doc blz.TOCDocument) error {
	if err := s.validateAlias(alias); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal toc: %w", err)
	}

	dir := s.sourceDir(alias)

	return writeAtomic(dir, filepath.Join(dir, tocFile), data)
}

// IndexDir returns the path to a source's active index directory.
func (s *Store) IndexDir(alias string) string {
	return filepath.Join(s.sourceDir(alias), indexDirName)
}

// StageIndexDir returns a fresh, uuid-suffixed staging directory path for a
// rebuilt index, creating it on disk. SwapIndexDir later renames it into
// place.
func (s *Store) StageIndexDir(alias string) (string, error) {
	if err := s.validateAlias(alias); err != nil {
		return "", err
	}

	staging := filepath.Join(s.sourceDir(alias), indexDirName+".new-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return "", fmt.Errorf("create staging index dir: %w", err)
	}

	return staging, nil
}

// SwapIndexDir atomically replaces the active index directory with the
// staged one, per spec.md §4.3 ("`.index/` is rebuilt into `.index.new/`
// then swapped"). The previous index is moved aside and removed only after
// the swap succeeds, so a failure here never leaves readers without an
// index.
func (s *Store) SwapIndexDir(alias, staging string) error {
	if err := s.validateAlias(alias); err != nil {
		return err
	}

	active := s.IndexDir(alias)

	retired := active + ".old-" + uuid.NewString()

	if _, err := os.Stat(active); err == nil {
		if err := os.Rename(active, retired); err != nil {
			return fmt.Errorf("retire previous index: %w", err)
		}
	}

	if err := os.Rename(staging, active); err != nil {
		// Best-effort restore of the previous index so readers keep working.
		if _, statErr := os.Stat(retired); statErr == nil {
			_ = os.Rename(retired, active)
		}

		return fmt.Errorf("swap staged index: %w", err)
	}

	_ = os.RemoveAll(retired)

	return nil
}

// DiscardStaging removes a staged index directory that was never swapped
// in.
func (s *Store) DiscardStaging(staging string) {
	_ = os.RemoveAll(staging)
}

// ArchiveContent copies the current llms.txt into a timestamped archive
// directory and prunes old archives beyond maxArchives, per spec.md §4.3.
// Returns the archived path, or "" if there was no existing content to
// archive.
func (s *Store) ArchiveContent(alias string, at time.Time, maxArchives int) (string, error) {
	if err := s.validateAlias(alias); err != nil {
		return "", err
	}

	srcPath := filepath.Join(s.sourceDir(alias), contentFile)

	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read content for archive: %w", err)
	}

	snapshotDir := filepath.Join(s.sourceDir(alias), archiveDir, at.UTC().Format(archiveTimeLayout))
	if err := os.MkdirAll(snapshotDir, 0o750); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	archivedPath := filepath.Join(snapshotDir, contentFile)
	if err := os.WriteFile(archivedPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write archive snapshot: %w", err)
	}

	if err := s.pruneArchives(alias, maxArchives); err != nil {
		return archivedPath, err
	}

	return archivedPath, nil
}

// Prune forces an immediate archive-retention sweep for a source, trimming
// it down to maxArchives snapshots. Operators use this after lowering
// max_archives, since ArchiveContent otherwise only prunes on the next
// refresh.
func (s *Store) Prune(alias string, maxArchives int) error {
	if err := s.validateAlias(alias); err != nil {
		return err
	}

	return s.pruneArchives(alias, maxArchives)
}

// pruneArchives keeps at most maxArchives snapshots, oldest first.
func (s *Store) pruneArchives(alias string, maxArchives int) error {
	if maxArchives <= 0 {
		maxArchives = DefaultMaxArchives
	}

	dir := filepath.Join(s.sourceDir(alias), archiveDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read archive directory: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	excess := len(names) - maxArchives
	for i := 0; i < excess; i++ {
		if err := os.RemoveAll(filepath.Join(dir, names[i])); err != nil {
			return fmt.Errorf("prune archive %s: %w", names[i], err)
		}
	}

	return nil
}

// RemoveSource archives the entire source directory (content, metadata,
// TOC and index) and removes it from the active root, returning the
// archive path. Used by the remove(alias) operation.
func (s *Store) RemoveSource(alias string, at time.Time) (string, error) {
	if err := s.validateAlias(alias); err != nil {
		return "", err
	}

	srcDir := s.sourceDir(alias)

	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", blz.ErrUnknownAlias, alias)
	}

	dest := filepath.Join(s.root, ".removed", alias+"-"+at.UTC().Format(archiveTimeLayout))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create removal archive directory: %w", err)
	}

	if err := os.Rename(srcDir, dest); err != nil {
		return "", fmt.Errorf("archive removed source: %w", err)
	}

	return dest, nil
}

// AppendRefreshRecord appends one entry to a source's append-only refresh
// log (refresh.log.jsonl), one JSON object per line, per spec.md §9's
// append-only audit trail for C11 transitions.
func (s *Store) AppendRefreshRecord(alias string, rec blz.RefreshRecord) error {
	if err := s.validateAlias(alias); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	dir := s.sourceDir(alias)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create source directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, refreshLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open refresh log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append refresh log: %w", err)
	}

	return nil
}

// ReadRefreshLog returns every recorded refresh entry for a source, oldest
// first. A missing log file yields an empty slice, not an error.
func (s *Store) ReadRefreshLog(alias string) ([]blz.RefreshRecord, error) {
	if err := s.validateAlias(alias); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.sourceDir(alias), refreshLogFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read refresh log: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	records := make([]blz.RefreshRecord, 0, len(lines))

	for _, line := range lines {
		if line == "" {
			continue
		}

		var rec blz.RefreshRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: %s", blz.ErrSchemaMismatch, err)
		}

		records = append(records, rec)
	}

	return records, nil
}

// ListAliases returns every source alias currently present under the root.
func (s *Store) ListAliases() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list storage root: %w", err)
	}

	var aliases []string

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		if _, err := os.Stat(filepath.Join(s.root, e.Name(), metadataFile)); err == nil {
			aliases = append(aliases, e.Name())
		}
	}

	sort.Strings(aliases)

	return aliases, nil
}

// Exists reports whether a source directory with metadata already exists.
func (s *Store) Exists(alias string) bool {
	_, err := os.Stat(filepath.Join(s.sourceDir(alias), metadataFile))
	return err == nil
}

// SizeOnDisk returns the approximate total byte size of a source's
// directory tree, used by the info() staleness probe.
func (s *Store) SizeOnDisk(alias string) (int64, error) {
	if err := s.validateAlias(alias); err != nil {
		return 0, err
	}

	var total int64

	err := filepath.Walk(s.sourceDir(alias), func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("walk source directory: %w", err)
	}

	return total, nil
}
