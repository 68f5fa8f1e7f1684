package dim

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrIndivisible = errors.New("dim: not divisible")
	ErrDivByZero   = errors.New("dim: division by zero")
	ErrUnresolved  = errors.New("dim: unresolved symbol")
)

// Dim is an integer dimension that may depend on named free symbols.
// It is stored as a linear polynomial: sum of coef*symbol terms plus a
// constant. A Dim with no terms is a concrete integer.
type Dim struct {
	terms map[string]int
	c     int
}

// Int returns a concrete dimension.
func Int(v int) Dim {
	return Dim{c: v}
}

// Sym returns a dimension equal to a single free symbol.
func Sym(name string) Dim {
	return Dim{terms: map[string]int{name: 1}}
}

// Stream is the conventional streaming-axis symbol.
func Stream() Dim {
	return Sym("S")
}

func (d Dim) clone() Dim {
	out := Dim{c: d.c}
	if len(d.terms) > 0 {
		out.terms = make(map[string]int, len(d.terms))
		for k, v := range d.terms {
			out.terms[k] = v
		}
	}
	return out
}

// IsConcrete reports whether the dimension carries no free symbols.
func (d Dim) IsConcrete() bool {
	return len(d.terms) == 0
}

// Value returns the concrete value. It is only meaningful when IsConcrete
// reports true.
func (d Dim) Value() (int, bool) {
	if !d.IsConcrete() {
		return 0, false
	}
	return d.c, true
}

// Add returns d + other.
func (d Dim) Add(other Dim) Dim {
	out := d.clone()
	out.c += other.c
	for k, v := range other.terms {
		out.addTerm(k, v)
	}
	return out
}

// Sub returns d - other.
func (d Dim) Sub(other Dim) Dim {
	out := d.clone()
	out.c -= other.c
	for k, v := range other.terms {
		out.addTerm(k, -v)
	}
	return out
}

// Mul returns d scaled by an integer factor.
func (d Dim) Mul(f int) Dim {
	if f == 0 {
		return Int(0)
	}
	out := d.clone()
	out.c *= f
	for k := range out.terms {
		out.terms[k] *= f
	}
	return out
}

// Div performs euclidean division by a positive integer. Every coefficient
// and the constant must be a multiple of the divisor.
func (d Dim) Div(q int) (Dim, error) {
	if q == 0 {
		return Dim{}, ErrDivByZero
	}
	if d.c%q != 0 {
		return Dim{}, fmt.Errorf("%w: %s / %d", ErrIndivisible, d, q)
	}
	out := d.clone()
	out.c /= q
	for k, v := range out.terms {
		if v%q != 0 {
			return Dim{}, fmt.Errorf("%w: %s / %d", ErrIndivisible, d, q)
		}
		out.terms[k] = v / q
	}
	return out, nil
}

// DivCeil returns ceil(d / q) for a concrete dimension, or exact division
// for a symbolic one.
func (d Dim) DivCeil(q int) (Dim, error) {
	if q <= 0 {
		return Dim{}, ErrDivByZero
	}
	if d.IsConcrete() {
		return Int((d.c + q - 1) / q), nil
	}
	return d.Div(q)
}

func (d *Dim) addTerm(sym string, coef int) {
	if coef == 0 {
		return
	}
	if d.terms == nil {
		d.terms = make(map[string]int, 1)
	}
	d.terms[sym] += coef
	if d.terms[sym] == 0 {
		delete(d.terms, sym)
	}
}

// Eval substitutes concrete values for free symbols.
func (d Dim) Eval(env map[string]int) (int, error) {
	v := d.c
	for k, coef := range d.terms {
		sub, ok := env[k]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnresolved, k)
		}
		v += coef * sub
	}
	return v, nil
}

// Equal reports polynomial identity after canonicalization.
func (d Dim) Equal(other Dim) bool {
	if d.c != other.c || len(d.terms) != len(other.terms) {
		return false
	}
	for k, v := range d.terms {
		if other.terms[k] != v {
			return false
		}
	}
	return true
}

// Compatible reports whether both dimensions can simultaneously hold. Two
// concrete dimensions are compatible only when equal; a dimension carrying
// any free symbol is reported compatible with every other dimension, without
// checking whether a satisfying symbol assignment exists.
func (d Dim) Compatible(other Dim) bool {
	if d.IsConcrete() && other.IsConcrete() {
		return d.c == other.c
	}
	return true
}

func (d Dim) String() string {
	if d.IsConcrete() {
		return fmt.Sprintf("%d", d.c)
	}
	syms := make([]string, 0, len(d.terms))
	for k := range d.terms {
		syms = append(syms, k)
	}
	sort.Strings(syms)
	var b strings.Builder
	for i, k := range syms {
		coef := d.terms[k]
		switch {
		case coef == 1:
			if i > 0 {
				b.WriteByte('+')
			}
		case coef == -1:
			b.WriteByte('-')
		default:
			if i > 0 && coef > 0 {
				b.WriteByte('+')
			}
			fmt.Fprintf(&b, "%d", coef)
		}
		b.WriteString(k)
	}
	if d.c > 0 {
		fmt.Fprintf(&b, "+%d", d.c)
	} else if d.c < 0 {
		fmt.Fprintf(&b, "%d", d.c)
	}
	return b.String()
}
