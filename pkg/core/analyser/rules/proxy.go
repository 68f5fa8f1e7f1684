package rules

// Proxies are pure references into a rule context. They carry no values;
// operator rule methods use them to name the variables their constraints
// relate.

// TensorsProxy names one side (inputs or outputs) of an operator.
type TensorsProxy struct {
	side Side
}

// NewProxies returns the canonical input and output proxies handed to an
// operator's rule block.
func NewProxies() (*TensorsProxy, *TensorsProxy) {
	return &TensorsProxy{side: In}, &TensorsProxy{side: Out}
}

// T names the i-th tensor on this side.
func (p *TensorsProxy) T(i int) TensorProxy {
	return TensorProxy{side: p.side, index: i}
}

// TensorProxy names a single tensor of a rule context.
type TensorProxy struct {
	side  Side
	index int
}

// DatumType names the tensor's datum type variable.
func (p TensorProxy) DatumType() TypeRef {
	return TypeRef{side: p.side, index: p.index}
}

// Rank names the tensor's rank variable.
func (p TensorProxy) Rank() IntRef {
	return IntRef{side: p.side, index: p.index}
}

// Shape names the tensor's whole-shape variable.
func (p TensorProxy) Shape() ShapeRef {
	return ShapeRef{side: p.side, index: p.index}
}

// Dim names one axis of the tensor's shape.
func (p TensorProxy) Dim(axis int) DimRef {
	return DimRef{side: p.side, index: p.index, axis: axis}
}

// Value names the tensor's (possibly known) value.
func (p TensorProxy) Value() ValueRef {
	return ValueRef{side: p.side, index: p.index}
}

// TypeRef names a datum type variable.
type TypeRef struct {
	side  Side
	index int
}

// IntRef names an integer variable (currently always a tensor rank).
type IntRef struct {
	side  Side
	index int
}

// Plus derives the affine expression ref+delta.
func (r IntRef) Plus(delta int) IntExpr {
	return IntExpr{ref: r, offset: delta}
}

// IntExpr is an integer variable plus a constant offset. Equality against it
// propagates in both directions.
type IntExpr struct {
	ref    IntRef
	offset int
}

// ShapeRef names a whole-shape variable.
type ShapeRef struct {
	side  Side
	index int
}

// DimRef names a single-axis variable of a shape.
type DimRef struct {
	side  Side
	index int
	axis  int
}

// ValueRef names a tensor value variable.
type ValueRef struct {
	side  Side
	index int
}
