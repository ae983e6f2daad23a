package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	require.NotEmpty(t, Version)
	require.NotEmpty(t, BuildTime)
	require.NotEmpty(t, GitCommit)
}

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "v1.2.3"

	ver, _ := Info()
	require.Equal(t, "v1.2.3", ver)
	require.True(t, strings.HasPrefix(String(), "docstage v1.2.3 (commit "))
}
