package graph

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// Ops is the numeric-operations capability interface leaf graph functions
// are written against. Both backends provide the same implementation over
// dense float64 tensors; what differs between them is execution strategy,
// not leaf arithmetic. Reductions and index operations act on the last
// axis, matching how action logits are laid out.
type Ops interface {
	// FromFloats builds a dense tensor from a copied flat backing.
	FromFloats(data []float64, shape ...int) Value
	// Shape returns a copy of the tensor's dimensions.
	Shape(v Value) ([]int, error)
	// Floats returns a copy of the tensor's flat backing.
	Floats(v Value) ([]float64, error)
	// Scalar reads the single element of a size-1 tensor.
	Scalar(v Value) (float64, error)

	Reshape(v Value, shape ...int) (Value, error)
	// SliceLast keeps the axis: [.., n] -> [.., to-from].
	SliceLast(v Value, from, to int) (Value, error)
	// SelectLast drops the axis: [.., n] -> [..].
	SelectLast(v Value, index int) (Value, error)
	Concat(axis int, vs ...Value) (Value, error)

	Add(a, b Value) (Value, error)
	Sub(a, b Value) (Value, error)
	Mul(a, b Value) (Value, error)
	Scale(v Value, c float64) (Value, error)
	Shift(v Value, c float64) (Value, error)
	Exp(v Value) (Value, error)

	Softmax(v Value) (Value, error)
	LogSoftmax(v Value) (Value, error)
	ArgmaxLast(v Value) (Value, error)
	MaxLast(v Value) (Value, error)
	MeanLast(v Value) (Value, error)
	MeanAll(v Value) (Value, error)
	// ExpandLast repeats each element n times: [..] -> [.., n].
	ExpandLast(v Value, n int) (Value, error)
	// Gather picks v[.., idx[..]] along the last axis: [.., n], [..] -> [..].
	Gather(v Value, idx Value) (Value, error)
}

// tensorOps implements Ops on *tensor.Dense with float64 backing.
type tensorOps struct{}

func asDense(v Value) (*tensor.Dense, error) {
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("%w: value is %T, want *tensor.Dense", ErrExecution, v)
	}
	return d, nil
}

func backing(d *tensor.Dense) ([]float64, error) {
	data, ok := d.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("%w: tensor backing is %T, want []float64", ErrExecution, d.Data())
	}
	return data, nil
}

func (tensorOps) FromFloats(data []float64, shape ...int) Value {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(append([]float64(nil), data...)))
}

func (tensorOps) Shape(v Value) ([]int, error) {
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), d.Shape()...), nil
}

func (tensorOps) Floats(v Value) ([]float64, error) {
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	data, err := backing(d)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), data...), nil
}

func (o tensorOps) Scalar(v Value) (float64, error) {
	data, err := o.Floats(v)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: scalar read on tensor of %d elements", ErrExecution, len(data))
	}
	return data[0], nil
}

func (tensorOps) Reshape(v Value, shape ...int) (Value, error) {
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	out := d.Clone().(*tensor.Dense)
	if err := out.Reshape(shape...); err != nil {
		return nil, fmt.Errorf("%w: reshape %v to %v: %v", ErrExecution, d.Shape(), shape, err)
	}
	return out, nil
}

func sliceSpec(dims, last int, s tensor.Slice) []tensor.Slice {
	spec := make([]tensor.Slice, dims)
	spec[last] = s
	return spec
}

func (tensorOps) SliceLast(v Value, from, to int) (Value, error) {
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	dims := d.Dims()
	n := d.Shape()[dims-1]
	if from < 0 || to > n || from >= to {
		return nil, fmt.Errorf("%w: slice [%d:%d] of last axis %d", ErrExecution, from, to, n)
	}
	view, err := d.Slice(sliceSpec(dims, dims-1, tensor.S(from, to))...)
	if err != nil {
		return nil, fmt.Errorf("%w: slice last axis: %v", ErrExecution, err)
	}
	return view.Materialize().(*tensor.Dense), nil
}

func (tensorOps) SelectLast(v Value, index int) (Value, error) {
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	dims := d.Dims()
	n := d.Shape()[dims-1]
	if index < 0 || index >= n {
		return nil, fmt.Errorf("%w: select %d of last axis %d", ErrExecution, index, n)
	}
	view, err := d.Slice(sliceSpec(dims, dims-1, tensor.S(index))...)
	if err != nil {
		return nil, fmt.Errorf("%w: select on last axis: %v", ErrExecution, err)
	}
	return view.Materialize().(*tensor.Dense), nil
}

func (tensorOps) Concat(axis int, vs ...Value) (Value, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: concat of zero tensors", ErrExecution)
	}
	first, err := asDense(vs[0])
	if err != nil {
		return nil, err
	}
	rest := make([]*tensor.Dense, 0, len(vs)-1)
	for _, v := range vs[1:] {
		d, err := asDense(v)
		if err != nil {
			return nil, err
		}
		rest = append(rest, d)
	}
	if len(rest) == 0 {
		return first.Clone().(*tensor.Dense), nil
	}
	out, err := first.Concat(axis, rest...)
	if err != nil {
		return nil, fmt.Errorf("%w: concat axis %d: %v", ErrExecution, axis, err)
	}
	return out, nil
}

func binary(op string, a, b Value, f func(x, y *tensor.Dense) (tensor.Tensor, error)) (Value, error) {
	x, err := asDense(a)
	if err != nil {
		return nil, err
	}
	y, err := asDense(b)
	if err != nil {
		return nil, err
	}
	out, err := f(x, y)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %v and %v: %v", ErrExecution, op, x.Shape(), y.Shape(), err)
	}
	return out.(*tensor.Dense), nil
}

func (tensorOps) Add(a, b Value) (Value, error) {
	return binary("add", a, b, func(x, y *tensor.Dense) (tensor.Tensor, error) { return tensor.Add(x, y) })
}

func (tensorOps) Sub(a, b Value) (Value, error) {
	return binary("sub", a, b, func(x, y *tensor.Dense) (tensor.Tensor, error) { return tensor.Sub(x, y) })
}

func (tensorOps) Mul(a, b Value) (Value, error) {
	return binary("mul", a, b, func(x, y *tensor.Dense) (tensor.Tensor, error) { return tensor.Mul(x, y) })
}

// mapElems clones and applies f elementwise.
func mapElems(v Value, f func(float64) float64) (Value, error) {
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	out := d.Clone().(*tensor.Dense)
	data, err := backing(out)
	if err != nil {
		return nil, err
	}
	for i := range data {
		data[i] = f(data[i])
	}
	return out, nil
}

func (tensorOps) Scale(v Value, c float64) (Value, error) {
	return mapElems(v, func(x float64) float64 { return x * c })
}

func (tensorOps) Shift(v Value, c float64) (Value, error) {
	return mapElems(v, func(x float64) float64 { return x + c })
}

func (tensorOps) Exp(v Value) (Value, error) {
	return mapElems(v, math.Exp)
}

// rows decomposes a tensor into row-major rows of the last axis.
func rows(v Value) (data []float64, shape []int, width int, err error) {
	d, err := asDense(v)
	if err != nil {
		return nil, nil, 0, err
	}
	shape = append([]int(nil), d.Shape()...)
	if len(shape) == 0 {
		return nil, nil, 0, fmt.Errorf("%w: scalar has no last axis", ErrExecution)
	}
	data, err = backing(d)
	if err != nil {
		return nil, nil, 0, err
	}
	return data, shape, shape[len(shape)-1], nil
}

func (o tensorOps) Softmax(v Value) (Value, error) {
	data, shape, w, err := rows(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for r := 0; r < len(data); r += w {
		maxv := data[r]
		for i := 1; i < w; i++ {
			if data[r+i] > maxv {
				maxv = data[r+i]
			}
		}
		var sum float64
		for i := 0; i < w; i++ {
			e := math.Exp(data[r+i] - maxv)
			out[r+i] = e
			sum += e
		}
		for i := 0; i < w; i++ {
			out[r+i] /= sum
		}
	}
	return o.FromFloats(out, shape...), nil
}

func (o tensorOps) LogSoftmax(v Value) (Value, error) {
	sm, err := o.Softmax(v)
	if err != nil {
		return nil, err
	}
	return mapElems(sm, func(x float64) float64 { return math.Log(x) })
}

// reduceLast folds each row of the last axis to one element.
func reduceLast(o tensorOps, v Value, f func(row []float64) float64) (Value, error) {
	data, shape, w, err := rows(v)
	if err != nil {
		return nil, err
	}
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: last-axis reduction needs rank >= 2, got %v", ErrExecution, shape)
	}
	out := make([]float64, 0, len(data)/w)
	for r := 0; r < len(data); r += w {
		out = append(out, f(data[r:r+w]))
	}
	return o.FromFloats(out, shape[:len(shape)-1]...), nil
}

func (o tensorOps) ArgmaxLast(v Value) (Value, error) {
	return reduceLast(o, v, func(row []float64) float64 {
		best := 0
		for i := 1; i < len(row); i++ {
			if row[i] > row[best] {
				best = i
			}
		}
		return float64(best)
	})
}

func (o tensorOps) MaxLast(v Value) (Value, error) {
	return reduceLast(o, v, func(row []float64) float64 {
		maxv := row[0]
		for i := 1; i < len(row); i++ {
			if row[i] > maxv {
				maxv = row[i]
			}
		}
		return maxv
	})
}

func (o tensorOps) MeanLast(v Value) (Value, error) {
	return reduceLast(o, v, func(row []float64) float64 {
		var sum float64
		for _, x := range row {
			sum += x
		}
		return sum / float64(len(row))
	})
}

func (o tensorOps) MeanAll(v Value) (Value, error) {
	data, err := o.Floats(v)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: mean of empty tensor", ErrExecution)
	}
	var sum float64
	for _, x := range data {
		sum += x
	}
	return o.FromFloats([]float64{sum / float64(len(data))}, 1), nil
}

func (o tensorOps) ExpandLast(v Value, n int) (Value, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: expand last axis to %d", ErrExecution, n)
	}
	d, err := asDense(v)
	if err != nil {
		return nil, err
	}
	data, err := backing(d)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(data)*n)
	for _, x := range data {
		for i := 0; i < n; i++ {
			out = append(out, x)
		}
	}
	shape := append(append([]int(nil), d.Shape()...), n)
	return o.FromFloats(out, shape...), nil
}

func (o tensorOps) Gather(v Value, idx Value) (Value, error) {
	data, shape, w, err := rows(v)
	if err != nil {
		return nil, err
	}
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: gather needs rank >= 2, got %v", ErrExecution, shape)
	}
	indices, err := o.Floats(idx)
	if err != nil {
		return nil, err
	}
	if len(indices)*w != len(data) {
		return nil, fmt.Errorf("%w: gather %d indices over %d rows", ErrExecution, len(indices), len(data)/w)
	}
	out := make([]float64, len(indices))
	for r := range indices {
		i := int(math.Round(indices[r]))
		if i < 0 || i >= w {
			return nil, fmt.Errorf("%w: gather index %d outside last axis %d", ErrExecution, i, w)
		}
		out[r] = data[r*w+i]
	}
	return o.FromFloats(out, shape[:len(shape)-1]...), nil
}
