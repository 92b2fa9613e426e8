package disparity

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Kind identifies a disparity backend implementation.
type Kind int

const (
	// KindClassical is the semi-global block matcher.
	KindClassical Kind = iota
	// KindNeural is the neural network inference backend.
	KindNeural
)

func (k Kind) String() string {
	switch k {
	case KindClassical:
		return "sgbm"
	case KindNeural:
		return "onnx"
	default:
		return "unknown"
	}
}

// modelAliases maps named neural models onto the conventional location of their exported model.
var modelAliases = map[string]string{
	"hitnet":      "models/hitnet.onnx",
	"crestereo":   "models/crestereo.onnx",
	"raft-stereo": "models/raft_stereo.onnx",
	"igev":        "models/igev_stereo.onnx",
}

// Names returns every backend name accepted by ParseKind.
func Names() []string {
	names := append([]string{KindClassical.String(), KindNeural.String()}, lo.Keys(modelAliases)...)
	sort.Strings(names[2:])
	return names
}

// ParseKind parses a backend selection string. Model aliases resolve to KindNeural and also
// return the alias's default model path; "onnx" returns an empty default.
func ParseKind(name string) (Kind, string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case KindClassical.String():
		return KindClassical, "", nil
	case KindNeural.String():
		return KindNeural, "", nil
	}
	if path, ok := modelAliases[key]; ok {
		return KindNeural, path, nil
	}
	return 0, "", NewError(ClassConfig, "parse backend",
		errors.Wrapf(ErrUnknownBackend, "%q (want one of %s)", name, strings.Join(Names(), ", ")))
}
