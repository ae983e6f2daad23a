package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/graph"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// InstructionFingerprint hashes the instruction payload together with the
// model override, so changing either counts as an instruction change.
func InstructionFingerprint(s stage.Stage) string {
	h := sha256.New()
	h.Write([]byte(s.Model))
	h.Write([]byte{0})
	h.Write([]byte(s.Instructions))
	return hex.EncodeToString(h.Sum(nil))
}

// SourceFingerprint hashes the resolved inputs of n in declaration order.
// Files contribute their content hash, dependency stages the output hash
// they have in this run, taken from outputs.
func SourceFingerprint(n *graph.Node, outputs map[string]string) (string, error) {
	h := sha256.New()
	for _, in := range n.Inputs {
		for _, f := range in.Files {
			fmt.Fprintf(h, "file:%s:%s\n", f.Path, f.Hash)
		}
		for _, id := range in.Stages {
			out, ok := outputs[id]
			if !ok {
				return "", errors.InternalError(fmt.Sprintf("stage %q: output of dependency %q is not known yet", n.ID(), id)).
					WithContext("stage", n.ID()).Build()
			}
			fmt.Fprintf(h, "stage:%s:%s\n", id, out)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// InputKey names one resolved input in a record's input map.
func InputKey(kind stage.RefKind, name string) string {
	if kind == stage.RefStage {
		return "stage:" + name
	}
	return "file:" + name
}

// InputHashes returns the hash of every resolved input of n, keyed by InputKey.
func InputHashes(n *graph.Node, outputs map[string]string) map[string]string {
	out := make(map[string]string)
	for _, in := range n.Inputs {
		for _, f := range in.Files {
			out[InputKey(stage.RefFile, f.Path)] = f.Hash
		}
		for _, id := range in.Stages {
			out[InputKey(stage.RefStage, id)] = outputs[id]
		}
	}
	return out
}
