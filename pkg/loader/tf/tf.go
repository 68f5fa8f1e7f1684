// Package tf decodes frozen TensorFlow GraphDef protobufs into the node
// descriptors the loader consumes. Only the fields the engine needs are
// decoded: node identity, input references and the attribute variants the
// operator builders ask for.
package tf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/itohio/EasyInfer/pkg/core/ops"
	"github.com/itohio/EasyInfer/pkg/core/tensor"
)

var ErrParse = errors.New("tf: malformed graph")

// GraphDef / NodeDef / AttrValue / TensorProto field numbers, per
// tensorflow/core/framework/*.proto.
const (
	graphNodeField = 1

	nodeNameField  = 1
	nodeOpField    = 2
	nodeInputField = 3
	nodeAttrField  = 5

	attrKeyField   = 1
	attrValueField = 2

	attrListField   = 1
	attrSField      = 2
	attrIField      = 3
	attrFField      = 4
	attrBField      = 5
	attrTypeField   = 6
	attrShapeField  = 7
	attrTensorField = 8

	shapeDimField     = 2
	shapeUnknownField = 3
	dimSizeField      = 1

	tensorDtypeField   = 1
	tensorShapeField   = 2
	tensorContentField = 4
	tensorFloatField   = 5
	tensorDoubleField  = 6
	tensorIntField     = 7
	tensorStringField  = 8
	tensorInt64Field   = 10
	tensorBoolField    = 11
)

// attrValue is one decoded AttrValue variant.
type attrValue struct {
	s      []byte
	i      *int64
	f      *float32
	b      *bool
	dtype  tensor.DatumType
	shape  []int
	tensor *tensor.Tensor
	list   *attrList
}

type attrList struct {
	i []int64
	f []float32
	s [][]byte
}

// Parse decodes a serialized GraphDef.
func Parse(data []byte) ([]ops.NodeDef, error) {
	var defs []ops.NodeDef
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
		}
		data = data[n:]
		if num == graphNodeField && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
			}
			data = data[n:]
			node, err := parseNode(raw)
			if err != nil {
				return nil, err
			}
			defs = append(defs, node)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return defs, nil
}

// Node is one decoded NodeDef.
type Node struct {
	name   string
	op     string
	inputs []string
	attrs  map[string]attrValue
}

func parseNode(data []byte) (*Node, error) {
	node := &Node{attrs: make(map[string]attrValue)}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
		switch num {
		case nodeNameField:
			node.name = string(payload)
		case nodeOpField:
			node.op = string(payload)
		case nodeInputField:
			node.inputs = append(node.inputs, string(payload))
		case nodeAttrField:
			return parseAttrEntry(node, payload)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if node.name == "" || node.op == "" {
		return nil, fmt.Errorf("%w: node without name or op", ErrParse)
	}
	return node, nil
}

func parseAttrEntry(node *Node, data []byte) error {
	var key string
	var value attrValue
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
		switch num {
		case attrKeyField:
			key = string(payload)
		case attrValueField:
			v, err := parseAttrValue(payload)
			if err != nil {
				return err
			}
			value = v
		}
		return nil
	})
	if err != nil {
		return err
	}
	if key != "" {
		node.attrs[key] = value
	}
	return nil
}

func parseAttrValue(data []byte) (attrValue, error) {
	var v attrValue
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
		switch num {
		case attrSField:
			v.s = payload
		case attrIField:
			i := int64(varint)
			v.i = &i
		case attrFField:
			f := math.Float32frombits(uint32(varint))
			v.f = &f
		case attrBField:
			b := varint != 0
			v.b = &b
		case attrTypeField:
			v.dtype = datumTypeOf(varint)
		case attrShapeField:
			shape, err := parseShape(payload)
			if err != nil {
				return err
			}
			v.shape = shape
		case attrTensorField:
			t, err := parseTensor(payload)
			if err != nil {
				return err
			}
			v.tensor = &t
		case attrListField:
			list, err := parseAttrList(payload)
			if err != nil {
				return err
			}
			v.list = list
		}
		return nil
	})
	return v, err
}

func parseAttrList(data []byte) (*attrList, error) {
	list := &attrList{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
		switch num {
		case attrIField:
			if typ == protowire.BytesType {
				for len(payload) > 0 {
					x, n := protowire.ConsumeVarint(payload)
					if n < 0 {
						return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
					}
					payload = payload[n:]
					list.i = append(list.i, int64(x))
				}
			} else {
				list.i = append(list.i, int64(varint))
			}
		case attrFField:
			if typ == protowire.BytesType {
				for len(payload) >= 4 {
					list.f = append(list.f, math.Float32frombits(binary.LittleEndian.Uint32(payload)))
					payload = payload[4:]
				}
			} else {
				list.f = append(list.f, math.Float32frombits(uint32(varint)))
			}
		case attrSField:
			list.s = append(list.s, payload)
		}
		return nil
	})
	return list, err
}

func parseShape(data []byte) ([]int, error) {
	var shape []int
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
		if num != shapeDimField {
			return nil
		}
		return walkFields(payload, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
			if num == dimSizeField {
				shape = append(shape, int(int64(varint)))
			}
			return nil
		})
	})
	return shape, err
}

func datumTypeOf(wire uint64) tensor.DatumType {
	switch wire {
	case 1:
		return tensor.DTFP32
	case 2:
		return tensor.DTFP64
	case 3:
		return tensor.DTINT32
	case 4:
		return tensor.DTUINT8
	case 6:
		return tensor.DTINT8
	case 7:
		return tensor.DTSTRING
	case 9:
		return tensor.DTINT64
	case 10:
		return tensor.DTBOOL
	default:
		return tensor.DT_UNKNOWN
	}
}

func parseTensor(data []byte) (tensor.Tensor, error) {
	var (
		dt      tensor.DatumType
		shape   []int
		content []byte
		f32s    []float32
		f64s    []float64
		i32s    []int32
		i64s    []int64
		bools   []bool
		strs    []string
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error {
		switch num {
		case tensorDtypeField:
			dt = datumTypeOf(varint)
		case tensorShapeField:
			s, err := parseShape(payload)
			if err != nil {
				return err
			}
			shape = s
		case tensorContentField:
			content = payload
		case tensorFloatField:
			if typ == protowire.BytesType {
				for len(payload) >= 4 {
					f32s = append(f32s, math.Float32frombits(binary.LittleEndian.Uint32(payload)))
					payload = payload[4:]
				}
			} else {
				f32s = append(f32s, math.Float32frombits(uint32(varint)))
			}
		case tensorDoubleField:
			if typ == protowire.BytesType {
				for len(payload) >= 8 {
					f64s = append(f64s, math.Float64frombits(binary.LittleEndian.Uint64(payload)))
					payload = payload[8:]
				}
			} else {
				f64s = append(f64s, math.Float64frombits(varint))
			}
		case tensorIntField:
			if typ == protowire.BytesType {
				for len(payload) > 0 {
					x, n := protowire.ConsumeVarint(payload)
					if n < 0 {
						return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
					}
					payload = payload[n:]
					i32s = append(i32s, int32(x))
				}
			} else {
				i32s = append(i32s, int32(varint))
			}
		case tensorInt64Field:
			if typ == protowire.BytesType {
				for len(payload) > 0 {
					x, n := protowire.ConsumeVarint(payload)
					if n < 0 {
						return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
					}
					payload = payload[n:]
					i64s = append(i64s, int64(x))
				}
			} else {
				i64s = append(i64s, int64(varint))
			}
		case tensorBoolField:
			if typ == protowire.BytesType {
				for _, b := range payload {
					bools = append(bools, b != 0)
				}
			} else {
				bools = append(bools, varint != 0)
			}
		case tensorStringField:
			strs = append(strs, string(payload))
		}
		return nil
	})
	if err != nil {
		return tensor.Tensor{}, err
	}
	return materialize(dt, shape, content, f32s, f64s, i32s, i64s, bools, strs)
}

// materialize builds the tensor from either raw content bytes or the typed
// value fields. A short value list repeats its last element, matching the
// TensorProto convention for splat constants.
func materialize(dt tensor.DatumType, shape []int, content []byte, f32s []float32, f64s []float64, i32s []int32, i64s []int64, bools []bool, strs []string) (tensor.Tensor, error) {
	size := tensor.NewShape(shape...).Size()
	switch dt {
	case tensor.DTFP32:
		out := make([]float32, size)
		if content != nil {
			if len(content) < 4*size {
				return tensor.Tensor{}, fmt.Errorf("%w: tensor content too short", ErrParse)
			}
			for i := range out {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(content[4*i:]))
			}
		} else {
			fillSplat(out, f32s)
		}
		return tensor.FromArray(tensor.NewShape(shape...), out), nil
	case tensor.DTFP64:
		out := make([]float64, size)
		if content != nil {
			if len(content) < 8*size {
				return tensor.Tensor{}, fmt.Errorf("%w: tensor content too short", ErrParse)
			}
			for i := range out {
				out[i] = math.Float64frombits(binary.LittleEndian.Uint64(content[8*i:]))
			}
		} else {
			fillSplat(out, f64s)
		}
		return tensor.FromArray(tensor.NewShape(shape...), out), nil
	case tensor.DTINT32:
		out := make([]int32, size)
		if content != nil {
			if len(content) < 4*size {
				return tensor.Tensor{}, fmt.Errorf("%w: tensor content too short", ErrParse)
			}
			for i := range out {
				out[i] = int32(binary.LittleEndian.Uint32(content[4*i:]))
			}
		} else {
			fillSplat(out, i32s)
		}
		return tensor.FromArray(tensor.NewShape(shape...), out), nil
	case tensor.DTINT64:
		out := make([]int64, size)
		if content != nil {
			if len(content) < 8*size {
				return tensor.Tensor{}, fmt.Errorf("%w: tensor content too short", ErrParse)
			}
			for i := range out {
				out[i] = int64(binary.LittleEndian.Uint64(content[8*i:]))
			}
		} else {
			fillSplat(out, i64s)
		}
		return tensor.FromArray(tensor.NewShape(shape...), out), nil
	case tensor.DTBOOL:
		out := make([]bool, size)
		fillSplat(out, bools)
		return tensor.FromArray(tensor.NewShape(shape...), out), nil
	case tensor.DTSTRING:
		out := make([]string, size)
		fillSplat(out, strs)
		return tensor.FromArray(tensor.NewShape(shape...), out), nil
	default:
		return tensor.Tensor{}, fmt.Errorf("%w: unsupported tensor dtype %v", ErrParse, dt)
	}
}

func fillSplat[T any](dst []T, src []T) {
	if len(src) == 0 {
		return
	}
	for i := range dst {
		if i < len(src) {
			dst[i] = src[i]
		} else {
			dst[i] = src[len(src)-1]
		}
	}
}

// walkFields iterates a message's fields, handing bytes payloads and varint
// scalars to the visitor.
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, payload []byte, varint uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
		}
		data = data[n:]
		switch typ {
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, payload, 0); err != nil {
				return err
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, nil, uint64(v)); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, nil, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrParse, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// NodeDef interface

func (n *Node) NodeName() string    { return n.name }
func (n *Node) OpKind() string      { return n.op }
func (n *Node) InputRefs() []string { return n.inputs }

func (n *Node) GetAttrType(key string) (tensor.DatumType, error) {
	if v, ok := n.attrs[key]; ok && v.dtype != tensor.DT_UNKNOWN {
		return v.dtype, nil
	}
	return tensor.DT_UNKNOWN, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *Node) GetAttrInt(key string) (int, error) {
	if v, ok := n.attrs[key]; ok && v.i != nil {
		return int(*v.i), nil
	}
	return 0, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *Node) GetAttrIntList(key string) ([]int, error) {
	if v, ok := n.attrs[key]; ok && v.list != nil {
		out := make([]int, len(v.list.i))
		for i, x := range v.list.i {
			out[i] = int(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *Node) GetAttrStr(key string) (string, error) {
	if v, ok := n.attrs[key]; ok && v.s != nil {
		return string(v.s), nil
	}
	return "", fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}

func (n *Node) GetAttrTensor(key string) (tensor.Tensor, error) {
	if v, ok := n.attrs[key]; ok && v.tensor != nil {
		return *v.tensor, nil
	}
	return tensor.Tensor{}, fmt.Errorf("%w: %q", ops.ErrNoAttr, key)
}
