package ops

import (
	"errors"

	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

// ErrNoAttr is returned by NodeDef accessors for a missing attribute.
var ErrNoAttr = errors.New("ops: attribute not found")

// NodeDef is a parsed node descriptor as supplied by a graph codec: the
// node's identity plus the typed attribute accessors operator builders need.
type NodeDef interface {
	// NodeName returns the unique node name.
	NodeName() string

	// OpKind returns the operator kind tag (e.g. "Conv2D").
	OpKind() string

	// InputRefs lists input references in "name" or "name:slot" form.
	InputRefs() []string

	GetAttrType(key string) (tensor.DatumType, error)
	GetAttrInt(key string) (int, error)
	GetAttrIntList(key string) ([]int, error)
	GetAttrStr(key string) (string, error)
	GetAttrTensor(key string) (tensor.Tensor, error)
}
