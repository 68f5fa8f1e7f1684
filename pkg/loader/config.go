package loader

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/itohio/EasyInfer/pkg/core/analyser/facts"
	"github.com/itohio/EasyInfer/pkg/core/dim"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

var ErrBadConfig = errors.New("loader: invalid run config")

// InputSpec constrains one graph input for analysis. Shape entries are
// integers, "?" for an unknown axis, or a symbol name such as "S" for the
// streaming axis.
type InputSpec struct {
	Dtype string   `yaml:"dtype"`
	Shape []string `yaml:"shape"`
}

// RunSpec is the YAML-facing run configuration: the seeded input facts, the
// requested outputs and the optional streaming axis.
type RunSpec struct {
	Inputs        map[string]InputSpec `yaml:"inputs"`
	Outputs       []string             `yaml:"outputs"`
	StreamingAxis *int                 `yaml:"streaming_axis"`
}

// ParseRunSpec unmarshals a YAML run configuration.
func ParseRunSpec(data []byte) (*RunSpec, error) {
	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	return &spec, nil
}

// InputFacts converts the declared inputs into seed facts for the analyser.
func (s *RunSpec) InputFacts() (map[string]facts.TensorFact, error) {
	out := make(map[string]facts.TensorFact, len(s.Inputs))
	for name, spec := range s.Inputs {
		fact := facts.Default()
		if spec.Dtype != "" {
			dt, err := parseDatumType(spec.Dtype)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", name, err)
			}
			fact.Type = dt
		}
		if spec.Shape != nil {
			dims := make([]facts.DimFact, len(spec.Shape))
			for i, tok := range spec.Shape {
				d, err := parseDim(tok)
				if err != nil {
					return nil, fmt.Errorf("input %q axis %d: %w", name, i, err)
				}
				dims[i] = d
			}
			fact.Shape = facts.ShapeFact{Dims: dims}
		}
		out[name] = fact
	}
	return out, nil
}

func parseDatumType(s string) (tensor.DatumType, error) {
	for dt := tensor.DTFP32; dt <= tensor.DTDIM; dt++ {
		if dt.String() == s {
			return dt, nil
		}
	}
	return tensor.DT_UNKNOWN, fmt.Errorf("%w: datum type %q", ErrBadConfig, s)
}

func parseDim(tok string) (facts.DimFact, error) {
	if tok == "?" {
		return facts.DimFact{}, nil
	}
	if v, err := strconv.Atoi(tok); err == nil {
		if v < 0 {
			return facts.DimFact{}, fmt.Errorf("%w: negative dim %d", ErrBadConfig, v)
		}
		return facts.IntDim(v), nil
	}
	return facts.KnownDim(dim.Sym(tok)), nil
}
