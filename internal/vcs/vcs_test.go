package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

func commitAll(t *testing.T, repo *git.Repository, msg string) string {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddGlob("."))
	h, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return h.String()
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*.md", "a.md", true},
		{"*.md", "docs/a.md", false},
		{"docs/*.md", "docs/a.md", true},
		{"docs/**/*.md", "docs/a.md", true},
		{"docs/**/*.md", "docs/x/y/a.md", true},
		{"**", "anything/at/all", true},
		{"src/[ab].go", "src/b.go", true},
		{"src/[ab].go", "src/c.go", false},
		{"src/*", "src/a/b.go", false},
		{"docs/**/c.md", "docs/sub/c.md", true},
		{"**/c.md", "c.md", true},
		{"src/[", "src/[", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, MatchGlob(tc.pattern, tc.name), "%s ~ %s", tc.pattern, tc.name)
	}
}

func TestDirTree(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"docs/a.md":          "alpha",
		"docs/b.md":          "beta",
		"docs/sub/c.md":      "gamma",
		".docstage/state.db": "x",
		"README.md":          "readme",
	})

	tree, err := Open(root, Options{Exclude: []string{".docstage"}})
	require.NoError(t, err)
	require.IsType(t, &DirTree{}, tree)
	require.Equal(t, WorktreeCommit, tree.Commit())
	require.NotContains(t, tree.Paths(), ".docstage/state.db")

	files, err := tree.Match("docs/*.md")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "docs/a.md", files[0].Path)
	require.Equal(t, HashBytes([]byte("alpha")), files[0].Hash)

	f, ok := tree.Lookup("README.md")
	require.True(t, ok)
	require.Equal(t, HashBytes([]byte("readme")), f.Hash)

	_, ok = tree.Lookup("missing.md")
	require.False(t, ok)

	_, err = tree.ReadAt("abc", "README.md")
	require.ErrorIs(t, err, ErrNoHistory)

	_, err = tree.Match("docs/[.md")
	require.Error(t, err)
}

func TestHashIsStableWithinSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "one"})
	tree, err := OpenDir(root, Options{})
	require.NoError(t, err)

	first, ok := tree.Lookup("a.txt")
	require.True(t, ok)
	writeFiles(t, root, map[string]string{"a.txt": "two"})
	second, ok := tree.Lookup("a.txt")
	require.True(t, ok)
	require.Equal(t, first.Hash, second.Hash)
}

func TestGitTree(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)

	writeFiles(t, root, map[string]string{
		".gitignore":   "build/\n*.tmp\n",
		"docs/a.md":    "v1",
		"docs/keep.md": "same",
		"build/out.md": "ignored",
		"scratch.tmp":  "ignored",
	})
	first := commitAll(t, repo, "first")

	writeFiles(t, root, map[string]string{"docs/a.md": "v2"})
	second := commitAll(t, repo, "second")

	// uncommitted edit is what the tree hashes
	writeFiles(t, root, map[string]string{"docs/a.md": "v3"})

	tree, err := Open(root, Options{})
	require.NoError(t, err)
	gt, ok := tree.(*GitTree)
	require.True(t, ok)
	require.Equal(t, second, gt.Commit())

	paths := gt.Paths()
	require.NotContains(t, paths, "build/out.md")
	require.NotContains(t, paths, "scratch.tmp")
	require.Contains(t, paths, "docs/a.md")

	f, ok := gt.Lookup("docs/a.md")
	require.True(t, ok)
	require.Equal(t, HashBytes([]byte("v3")), f.Hash)

	old, err := gt.ReadAt(first, "docs/a.md")
	require.NoError(t, err)
	require.Equal(t, "v1", string(old))

	_, err = gt.ReadAt(first, "docs/none.md")
	require.Error(t, err)

	changed, err := gt.ChangedSince(first)
	require.NoError(t, err)
	require.Equal(t, []string{"docs/a.md"}, changed)
}

func TestGitTreeSubdirectoryRoot(t *testing.T) {
	top := t.TempDir()
	repo, err := git.PlainInit(top, false)
	require.NoError(t, err)
	writeFiles(t, top, map[string]string{
		"project/docs/a.md": "v1",
		"other/x.md":        "x",
	})
	first := commitAll(t, repo, "first")

	tree, err := OpenGit(filepath.Join(top, "project"), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"docs/a.md"}, tree.Paths())

	data, err := tree.ReadAt(first, "docs/a.md")
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
}

func TestGitTreeUnbornHead(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)
	writeFiles(t, root, map[string]string{"a.md": "x"})

	tree, err := OpenGit(root, Options{})
	require.NoError(t, err)
	require.Equal(t, WorktreeCommit, tree.Commit())
	_, err = tree.ChangedSince("deadbeef")
	require.ErrorIs(t, err, ErrNoHistory)
}
