// Package stage defines the stage model: generation units, their dependency
// references and the closed set of regeneration actions.
package stage

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RefKind classifies a dependency reference.
type RefKind string

const (
	RefFile  RefKind = "file"
	RefGlob  RefKind = "glob"
	RefStage RefKind = "stage"
)

// Stage is one generation unit as declared.
type Stage struct {
	ID           string
	Output       string
	Deps         []DependencyReference
	Instructions string
	// Model optionally overrides the generation service model.
	Model string
	// Source is the declaration file this stage came from.
	Source string
	// Index is the position in declaration order; it breaks ordering ties.
	Index int
}

// DependencyReference is one entry of a stage's deps list.
type DependencyReference struct {
	Raw    string
	Kind   RefKind
	Target string // path, pattern or stage ID depending on Kind
}

func (r DependencyReference) String() string { return r.Raw }

// ParseReference classifies a raw deps entry. "stage:<id>" and "@<id>" name a
// stage; anything with glob metacharacters is a glob; the rest is a literal path.
// Literal paths equal to another stage's output are turned into stage references
// when the graph is built.
func ParseReference(raw string) DependencyReference {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "stage:"):
		return DependencyReference{Raw: raw, Kind: RefStage, Target: NormalizeID(strings.TrimPrefix(s, "stage:"))}
	case strings.HasPrefix(s, "@"):
		return DependencyReference{Raw: raw, Kind: RefStage, Target: NormalizeID(strings.TrimPrefix(s, "@"))}
	case strings.ContainsAny(s, "*?["):
		return DependencyReference{Raw: raw, Kind: RefGlob, Target: CleanPath(s)}
	default:
		return DependencyReference{Raw: raw, Kind: RefFile, Target: CleanPath(s)}
	}
}

// NormalizeID returns the canonical form of a stage identifier: NFC normalised,
// slash separated, without leading "./" or trailing slashes.
func NormalizeID(id string) string {
	id = norm.NFC.String(strings.TrimSpace(id))
	id = filepath.ToSlash(id)
	id = strings.Trim(path.Clean("/"+id), "/")
	return id
}

// IDFromPath derives a stage ID from a declaration path relative to the stages root.
func IDFromPath(rel string) string {
	rel = filepath.ToSlash(rel)
	return NormalizeID(strings.TrimSuffix(rel, path.Ext(rel)))
}

// CleanPath normalises a project-relative path to slash form.
func CleanPath(p string) string {
	p = norm.NFC.String(filepath.ToSlash(strings.TrimSpace(p)))
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(p), "./")
}
