// Package vcs is the version-control collaborator: it lists project files with
// their content hashes at the current working state and reads file content at
// earlier commits. The engine never writes version-control state.
package vcs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	ferrors "git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

// WorktreeCommit is the point-in-time reference used when no commit exists.
const WorktreeCommit = "worktree"

// ErrNoHistory is returned by ReadAt when the tree has no version history.
var ErrNoHistory = errors.New("no version history available")

// File is one project file and the hash of its working-state content.
type File struct {
	Path string // slash separated, relative to the project root
	Hash string
}

// Tree is the read-only view of the project the engine resolves dependencies against.
type Tree interface {
	Root() string
	// Match returns the files matching a slash-separated glob, sorted by path.
	// "**" matches any number of directories.
	Match(pattern string) ([]File, error)
	Lookup(p string) (File, bool)
	Read(p string) ([]byte, error)
	// Commit identifies the current point in time.
	Commit() string
	// ReadAt returns the content of p as of commit.
	ReadAt(commit, p string) ([]byte, error)
	// Paths returns every tracked path, sorted.
	Paths() []string
}

// Options controls tree construction.
type Options struct {
	// Exclude lists root-relative directories that are never listed (state dir, build output).
	Exclude []string
}

// Open returns a GitTree when root is inside a git repository, a DirTree otherwise.
func Open(root string, opts Options) (Tree, error) {
	gt, err := OpenGit(root, opts)
	if err == nil {
		return gt, nil
	}
	if !errors.Is(err, errNotRepository) {
		return nil, err
	}
	return OpenDir(root, opts)
}

// snapshot lists files under a root and hashes them lazily. Hashes are computed
// at most once per snapshot so every consumer in a run sees the same value.
type snapshot struct {
	root  string
	paths []string
	known map[string]struct{}

	mu     sync.Mutex
	hashes map[string]string
}

func newSnapshot(root string, opts Options, ignored func(rel string, isDir bool) bool) (*snapshot, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryVCS, "resolve project root").Build()
	}
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, e := range opts.Exclude {
		if e == "" {
			continue
		}
		if filepath.IsAbs(e) {
			rel, relErr := filepath.Rel(abs, e)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			e = rel
		}
		excluded[filepath.ToSlash(filepath.Clean(e))] = struct{}{}
	}

	s := &snapshot{root: abs, known: map[string]struct{}{}, hashes: map[string]string{}}
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == abs {
			return nil
		}
		rel, _ := filepath.Rel(abs, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if _, skip := excluded[rel]; skip {
				return filepath.SkipDir
			}
			if ignored != nil && ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ignored != nil && ignored(rel, false) {
			return nil
		}
		s.paths = append(s.paths, rel)
		s.known[rel] = struct{}{}
		return nil
	})
	if walkErr != nil {
		return nil, ferrors.WrapError(walkErr, ferrors.CategoryVCS, "list project files").
			WithContext("path", abs).Build()
	}
	sort.Strings(s.paths)
	return s, nil
}

func (s *snapshot) Root() string { return s.root }

func (s *snapshot) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

func (s *snapshot) Lookup(p string) (File, bool) {
	if _, ok := s.known[p]; !ok {
		return File{}, false
	}
	h, err := s.hash(p)
	if err != nil {
		return File{}, false
	}
	return File{Path: p, Hash: h}, true
}

func (s *snapshot) Read(p string) ([]byte, error) {
	// #nosec G304 -- p is a root-relative path listed by the snapshot or a declared output.
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(p)))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read project file").
			WithContext("path", p).Build()
	}
	return data, nil
}

func (s *snapshot) Match(pattern string) ([]File, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, ferrors.ValidationError("invalid glob pattern").
			WithContext("pattern", pattern).Build()
	}
	var out []File
	for _, p := range s.paths {
		if !MatchGlob(pattern, p) {
			continue
		}
		h, err := s.hash(p)
		if err != nil {
			return nil, err
		}
		out = append(out, File{Path: p, Hash: h})
	}
	return out, nil
}

func (s *snapshot) hash(p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hashes[p]; ok {
		return h, nil
	}
	data, err := s.Read(p)
	if err != nil {
		return "", err
	}
	h := HashBytes(data)
	s.hashes[p] = h
	return h, nil
}

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MatchGlob reports whether the slash-separated name matches pattern. Segments
// use path.Match syntax; a "**" segment matches zero or more segments. Invalid
// patterns match nothing.
func MatchGlob(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
