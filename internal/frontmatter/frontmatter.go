// Package frontmatter splits and joins the YAML header fenced by "---" lines
// at the top of declarations and generated artifacts.
package frontmatter

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// ErrMissingClosingDelimiter is returned when an opening "---" has no matching close.
var ErrMissingClosingDelimiter = errors.New("yaml header start delimiter found but closing delimiter is missing")

// Document is a file split into its YAML header and body.
type Document struct {
	Header    []byte // raw YAML without delimiters
	Body      []byte
	HasHeader bool
	Newline   string // "\n" or "\r\n", detected from the first line break
}

// Split separates the YAML header from the body. Content without an opening
// delimiter is returned as body only.
func Split(content []byte) (Document, error) {
	nl := detectNewline(content)
	doc := Document{Body: content, Newline: nl}

	open := []byte("---" + nl)
	if !bytes.HasPrefix(content, open) {
		return doc, nil
	}
	start := len(open)

	// empty header: "---\n---\n"
	if bytes.HasPrefix(content[start:], open) {
		return Document{Header: []byte{}, Body: content[start+len(open):], HasHeader: true, Newline: nl}, nil
	}

	closeSeq := []byte(nl + "---" + nl)
	idx := bytes.Index(content[start:], closeSeq)
	if idx < 0 {
		// a header closed at EOF without a trailing newline is still a header
		if bytes.HasSuffix(content, []byte(nl+"---")) {
			end := len(content) - len("---")
			return Document{Header: content[start:end], Body: []byte{}, HasHeader: true, Newline: nl}, nil
		}
		return Document{}, ErrMissingClosingDelimiter
	}
	return Document{
		Header:    content[start : start+idx+len(nl)],
		Body:      content[start+idx+len(closeSeq):],
		HasHeader: true,
		Newline:   nl,
	}, nil
}

// Bytes reassembles the document.
func (d Document) Bytes() []byte {
	if !d.HasHeader {
		return d.Body
	}
	nl := d.Newline
	if nl == "" {
		nl = "\n"
	}
	header := d.Header
	if len(header) > 0 && !bytes.HasSuffix(header, []byte(nl)) {
		header = append(append([]byte{}, header...), nl...)
	}
	out := make([]byte, 0, len(header)+len(d.Body)+2*(3+len(nl)))
	out = append(out, "---"+nl...)
	out = append(out, header...)
	out = append(out, "---"+nl...)
	out = append(out, d.Body...)
	return out
}

// ParseYAML decodes a header into a generic map. An empty header yields an empty map.
func ParseYAML(header []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(header)) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := yaml.Unmarshal(header, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

// DecodeStrict decodes a header into v, rejecting fields v does not declare.
func DecodeStrict(header []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(header))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func detectNewline(content []byte) string {
	if i := bytes.IndexByte(content, '\n'); i > 0 && content[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}
