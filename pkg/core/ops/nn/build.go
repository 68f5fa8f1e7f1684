package nn

import (
	"errors"
	"fmt"

	"github.com/itohio/EasyInfer/pkg/core/ops"
)

var ErrUnsupportedLayout = errors.New("nn: unsupported layout")

// tfWindowAttrs extracts the TensorFlow window attributes shared by Conv2D
// and the pooling operators. The NCHW data format is rejected at build time.
func tfWindowAttrs(def ops.NodeDef) (strides []int, padding PaddingSpec, err error) {
	if fmtAttr, err := def.GetAttrStr("data_format"); err == nil && fmtAttr == "NCHW" {
		return nil, PaddingSpec{}, fmt.Errorf("%w: NCHW data_format", ErrUnsupportedLayout)
	}
	raw, err := def.GetAttrIntList("strides")
	if err != nil {
		return nil, PaddingSpec{}, fmt.Errorf("expect strides attribute: %w", err)
	}
	if len(raw) != 4 || raw[0] != 1 || raw[3] != 1 {
		return nil, PaddingSpec{}, fmt.Errorf("%w: strides must be [1,s,s,1], found %v", ErrUnsupportedLayout, raw)
	}
	strides = []int{raw[1], raw[2]}
	pad, err := def.GetAttrStr("padding")
	if err != nil {
		return nil, PaddingSpec{}, fmt.Errorf("expect padding attribute: %w", err)
	}
	switch pad {
	case "VALID":
		padding = PaddingSpec{Kind: Valid}
	case "SAME":
		padding = PaddingSpec{Kind: SameUpper}
	default:
		return nil, PaddingSpec{}, fmt.Errorf("%w: padding %q", ErrUnsupportedLayout, pad)
	}
	return strides, padding, nil
}

func tfKernelSize(def ops.NodeDef) ([]int, error) {
	ksize, err := def.GetAttrIntList("ksize")
	if err != nil {
		return nil, fmt.Errorf("expect ksize attribute: %w", err)
	}
	if len(ksize) != 4 || ksize[0] != 1 || ksize[3] != 1 {
		return nil, fmt.Errorf("%w: ksize must be [1,k,k,1], found %v", ErrUnsupportedLayout, ksize)
	}
	return []int{ksize[1], ksize[2]}, nil
}

func init() {
	ops.MustRegister("Conv2D", func(def ops.NodeDef) (ops.Op, error) {
		strides, padding, err := tfWindowAttrs(def)
		if err != nil {
			return nil, err
		}
		return &Conv{
			DataIsNHWC:   true,
			KernelIsHWIO: true,
			Padding:      padding,
			Strides:      strides,
		}, nil
	})
	ops.MustRegister("MaxPool", func(def ops.NodeDef) (ops.Op, error) {
		strides, padding, err := tfWindowAttrs(def)
		if err != nil {
			return nil, err
		}
		ksize, err := tfKernelSize(def)
		if err != nil {
			return nil, err
		}
		return NewMaxPool(true, ksize, padding, strides), nil
	})
	ops.MustRegister("AvgPool", func(def ops.NodeDef) (ops.Op, error) {
		strides, padding, err := tfWindowAttrs(def)
		if err != nil {
			return nil, err
		}
		ksize, err := tfKernelSize(def)
		if err != nil {
			return nil, err
		}
		return NewAvgPool(true, ksize, padding, strides), nil
	})
}
