package vcs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"

	ferrors "git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

var errNotRepository = errors.New("not a git repository")

// GitTree is the working state of a git repository. Content hashes are taken
// from the working tree so uncommitted edits are seen; files matched by the
// repository's ignore rules are not listed.
type GitTree struct {
	*snapshot
	repo   *git.Repository
	commit string
	// prefix is root relative to the repository top level, slash separated.
	prefix string
}

// OpenGit opens the repository containing root.
func OpenGit(root string, opts Options) (*GitTree, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, errNotRepository
		}
		return nil, ClassifyGitError(err, "open", root)
	}
	wt, err := repo.Worktree()
	if err != nil {
		// bare repositories have no working state to build from
		return nil, errNotRepository
	}

	top := wt.Filesystem.Root()
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ClassifyGitError(err, "open", root)
	}
	prefix, err := filepath.Rel(top, absRoot)
	if err != nil {
		return nil, ClassifyGitError(err, "open", root)
	}
	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	}

	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return nil, ClassifyGitError(err, "read ignore rules", root)
	}
	matcher := gitignore.NewMatcher(patterns)
	ignored := func(rel string, isDir bool) bool {
		return matcher.Match(strings.Split(joinPrefix(prefix, rel), "/"), isDir)
	}

	s, err := newSnapshot(root, opts, ignored)
	if err != nil {
		return nil, err
	}

	commit := WorktreeCommit
	if head, headErr := repo.Head(); headErr == nil {
		commit = head.Hash().String()
	}
	return &GitTree{snapshot: s, repo: repo, commit: commit, prefix: prefix}, nil
}

// Commit returns the HEAD commit hash, or WorktreeCommit for an unborn branch.
func (g *GitTree) Commit() string { return g.commit }

// ReadAt reads p from the tree of the given commit.
func (g *GitTree) ReadAt(commit, p string) ([]byte, error) {
	if commit == "" || commit == WorktreeCommit {
		return nil, ErrNoHistory
	}
	f, err := g.fileAt(commit, p)
	if err != nil {
		return nil, err
	}
	content, err := f.Contents()
	if err != nil {
		return nil, ClassifyGitError(err, "read blob", p)
	}
	return []byte(content), nil
}

// ChangedSince lists root-relative paths whose committed content differs between
// commit and HEAD. Paths outside root are omitted.
func (g *GitTree) ChangedSince(commit string) ([]string, error) {
	if commit == "" || commit == WorktreeCommit || g.commit == WorktreeCommit {
		return nil, ErrNoHistory
	}
	from, err := g.treeAt(commit)
	if err != nil {
		return nil, err
	}
	to, err := g.treeAt(g.commit)
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(from, to)
	if err != nil {
		return nil, ClassifyGitError(err, "diff", commit)
	}
	seen := map[string]struct{}{}
	var out []string
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			rel, ok := g.trimPrefix(name)
			if !ok || name == "" {
				continue
			}
			if _, dup := seen[rel]; dup {
				continue
			}
			seen[rel] = struct{}{}
			out = append(out, rel)
		}
	}
	return out, nil
}

func (g *GitTree) treeAt(commit string) (*object.Tree, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, ClassifyGitError(err, "resolve commit", commit)
	}
	t, err := c.Tree()
	if err != nil {
		return nil, ClassifyGitError(err, "read tree", commit)
	}
	return t, nil
}

func (g *GitTree) fileAt(commit, p string) (*object.File, error) {
	t, err := g.treeAt(commit)
	if err != nil {
		return nil, err
	}
	f, err := t.File(joinPrefix(g.prefix, p))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, ferrors.VCSError(fmt.Sprintf("%s not present at %s", p, shortHash(commit))).
				WithCause(err).WithContext("path", p).WithContext("commit", commit).Build()
		}
		return nil, ClassifyGitError(err, "read file", p)
	}
	return f, nil
}

func (g *GitTree) trimPrefix(name string) (string, bool) {
	if g.prefix == "" {
		return name, true
	}
	if !strings.HasPrefix(name, g.prefix+"/") {
		return "", false
	}
	return strings.TrimPrefix(name, g.prefix+"/"), true
}

func joinPrefix(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ClassifyGitError wraps go-git errors into VCS-category classified errors.
func ClassifyGitError(err error, op, target string) error {
	if err == nil {
		return nil
	}
	if _, ok := ferrors.AsClassified(err); ok {
		return err
	}
	return ferrors.VCSError("git operation failed").
		WithCause(err).
		WithContext("op", op).
		WithContext("path", target).
		Build()
}
