package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitWithoutHeader(t *testing.T) {
	input := []byte("# Title\n\nHello\n")
	doc, err := Split(input)
	require.NoError(t, err)
	require.False(t, doc.HasHeader)
	require.Equal(t, input, doc.Body)
	require.Equal(t, input, doc.Bytes())
}

func TestSplitHeaderAndBody(t *testing.T) {
	doc, err := Split([]byte("---\noutput: docs/a.md\n---\nWrite it.\n"))
	require.NoError(t, err)
	require.True(t, doc.HasHeader)
	require.Equal(t, "output: docs/a.md\n", string(doc.Header))
	require.Equal(t, "Write it.\n", string(doc.Body))
}

func TestSplitEmptyHeader(t *testing.T) {
	doc, err := Split([]byte("---\n---\nbody"))
	require.NoError(t, err)
	require.True(t, doc.HasHeader)
	require.Empty(t, doc.Header)
	require.Equal(t, "body", string(doc.Body))
}

func TestSplitHeaderAtEOF(t *testing.T) {
	doc, err := Split([]byte("---\noutput: x.md\n---"))
	require.NoError(t, err)
	require.Equal(t, "output: x.md\n", string(doc.Header))
	require.Empty(t, doc.Body)
}

func TestSplitMissingClosingDelimiter(t *testing.T) {
	_, err := Split([]byte("---\nkey: value\n# Title\n"))
	require.ErrorIs(t, err, ErrMissingClosingDelimiter)
}

func TestSplitCRLFRoundTrip(t *testing.T) {
	input := []byte("---\r\nkey: value\r\n---\r\n# Title\r\n")
	doc, err := Split(input)
	require.NoError(t, err)
	require.Equal(t, "\r\n", doc.Newline)
	require.Equal(t, "key: value\r\n", string(doc.Header))
	require.Equal(t, input, doc.Bytes())
}

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	var v struct {
		Output string `yaml:"output"`
	}
	require.NoError(t, DecodeStrict([]byte("output: a.md\n"), &v))
	require.Equal(t, "a.md", v.Output)

	require.Error(t, DecodeStrict([]byte("output: a.md\nextra: 1\n"), &v))

	var empty struct{}
	require.NoError(t, DecodeStrict(nil, &empty))
}

func TestParseYAML(t *testing.T) {
	fields, err := ParseYAML([]byte("title: x\ncount: 2\n"))
	require.NoError(t, err)
	require.Equal(t, "x", fields["title"])
	require.Equal(t, 2, fields["count"])

	fields, err = ParseYAML(nil)
	require.NoError(t, err)
	require.Empty(t, fields)
}
