// Package artifact reads and writes generated stage outputs. Every artifact
// carries a YAML header naming its stage and an mdfp fingerprint over the
// header and body, so edits made outside the engine are detected on load.
package artifact

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/inful/mdfp"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/frontmatter"
	"git.home.luguber.info/inful/docstage/internal/fsutil"
	"git.home.luguber.info/inful/docstage/internal/vcs"
)

// StageField names the header field holding the producing stage ID.
const StageField = "docstage_stage"

// Artifact is an artifact file as found on disk.
type Artifact struct {
	StageID string
	Path    string
	Data    []byte
	// Hash is the sha256 of Data; it is what stage records store as OutputHash.
	Hash string
	// Signed is false for files that carry no fingerprint field.
	Signed bool
}

// Body returns the artifact content without the signature header fields. A
// header the generator produced itself is kept.
func (a Artifact) Body() ([]byte, error) {
	return Strip(a.Data)
}

// Fingerprint computes the signature over header fields and body. The
// fingerprint field itself never takes part.
func Fingerprint(fields map[string]any, body []byte) (string, error) {
	forHash := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == mdfp.FingerprintField {
			continue
		}
		forHash[k] = v
	}
	header := ""
	if len(forHash) > 0 {
		serialized, err := frontmatter.SerializeYAML(forHash)
		if err != nil {
			return "", err
		}
		header = strings.TrimSuffix(string(serialized), "\n")
	}
	return mdfp.CalculateFingerprintFromParts(header, string(body)), nil
}

// Compose turns generated text into signed artifact bytes. Header fields the
// generator emitted are preserved; the stage and fingerprint fields are
// always overwritten.
func Compose(stageID string, generated []byte) ([]byte, error) {
	doc, err := frontmatter.Split(generated)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryGeneration, "generated output has a broken header").
			WithContext("stage", stageID).Build()
	}
	fields, err := frontmatter.ParseYAML(doc.Header)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryGeneration, "generated output header is not valid YAML").
			WithContext("stage", stageID).Build()
	}
	fields[StageField] = stageID
	delete(fields, mdfp.FingerprintField)

	body := normalizeNewlines(doc.Body, doc.Newline)
	fp, err := Fingerprint(fields, body)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "compute artifact fingerprint").
			WithContext("stage", stageID).Build()
	}
	fields[mdfp.FingerprintField] = fp

	header, err := frontmatter.SerializeYAML(fields)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, "serialize artifact header").
			WithContext("stage", stageID).Build()
	}
	return frontmatter.Document{Header: header, Body: body, HasHeader: true, Newline: "\n"}.Bytes(), nil
}

// Strip removes the signature fields from artifact bytes. When no other header
// fields remain the header is dropped entirely.
func Strip(data []byte) ([]byte, error) {
	doc, err := frontmatter.Split(data)
	if err != nil || !doc.HasHeader {
		return data, err
	}
	fields, err := frontmatter.ParseYAML(doc.Header)
	if err != nil {
		return nil, err
	}
	delete(fields, StageField)
	delete(fields, mdfp.FingerprintField)
	if len(fields) == 0 {
		return doc.Body, nil
	}
	header, err := frontmatter.SerializeYAML(fields)
	if err != nil {
		return nil, err
	}
	doc.Header = header
	return doc.Bytes(), nil
}

// Check verifies the embedded signature of data produced for stageID. A
// signature that is present but does not match the content, or that names a
// different stage, is a HandEditedArtifact error.
func Check(stageID, path string, data []byte) (Artifact, error) {
	a := Artifact{StageID: stageID, Path: path, Data: data, Hash: vcs.HashBytes(data)}

	doc, err := frontmatter.Split(data)
	if err != nil {
		return a, errors.HandEditedArtifact(stageID, path).WithCause(err).Build()
	}
	if !doc.HasHeader {
		return a, nil
	}
	fields, err := frontmatter.ParseYAML(doc.Header)
	if err != nil {
		return a, errors.HandEditedArtifact(stageID, path).WithCause(err).Build()
	}
	stored, ok := fields[mdfp.FingerprintField].(string)
	if !ok || stored == "" {
		return a, nil
	}
	a.Signed = true

	if owner, _ := fields[StageField].(string); owner != stageID {
		return a, errors.HandEditedArtifact(stageID, path).WithContext("owner", owner).Build()
	}
	want, err := Fingerprint(fields, normalizeNewlines(doc.Body, doc.Newline))
	if err != nil {
		return a, errors.WrapError(err, errors.CategoryInternal, "compute artifact fingerprint").
			WithContext("stage", stageID).Build()
	}
	if want != stored {
		return a, errors.HandEditedArtifact(stageID, path).Build()
	}
	return a, nil
}

// Read loads and checks the artifact at path. A missing file reports ok=false.
// On a signature mismatch the artifact is returned together with the error.
func Read(stageID, path string) (Artifact, bool, error) {
	// #nosec G304 -- path is a declared output locator under the project root.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{StageID: stageID, Path: path}, false, nil
		}
		return Artifact{}, false, errors.WrapError(err, errors.CategoryFileSystem, "read artifact").
			WithContext("stage", stageID).WithContext("path", path).Build()
	}
	a, err := Check(stageID, path, data)
	return a, true, err
}

// Write atomically replaces the artifact at path. Readers never observe a
// partially written file.
func Write(path string, data []byte) error {
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "write artifact").
			WithContext("path", path).Build()
	}
	return nil
}

// Locate joins a slash-separated output locator to the project root.
func Locate(root, output string) string {
	return filepath.Join(root, filepath.FromSlash(output))
}

func normalizeNewlines(body []byte, nl string) []byte {
	if nl != "\r\n" {
		return body
	}
	return []byte(strings.ReplaceAll(string(body), "\r\n", "\n"))
}
