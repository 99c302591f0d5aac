package frameworks

import (
	"github.com/pdevine/tensor"
	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/learners"
	"github.com/gomlx/inferkit/types/raws"
)

// DenseAdapter executes a compiled module over github.com/pdevine/tensor dense
// tensors. No device tracking is performed: that framework manages placement
// transparently, and conversions in both directions are allocation-preserving views
// over the same backing slice.
type DenseAdapter struct {
	handle *learners.Handle
}

// Framework identity this adapter serves.
func (a *DenseAdapter) Framework() Framework { return FrameworkDense }

// Handle returns the underlying compiled-module handle.
func (a *DenseAdapter) Handle() *learners.Handle { return a.handle }

// denseToRaw views a dense tensor as a raw array, sharing the backing slice.
func denseToRaw(d *tensor.Dense) (*raws.Raw, error) {
	dims := []int(d.Shape())
	switch data := d.Data().(type) {
	case []float32:
		return raws.WrapFlat(data, dims...), nil
	case []float64:
		return raws.WrapFlat(data, dims...), nil
	case []int32:
		return raws.WrapFlat(data, dims...), nil
	case []int64:
		return raws.WrapFlat(data, dims...), nil
	}
	return nil, errors.Errorf("DenseAdapter: dense tensor dtype %v is not supported", d.Dtype())
}

// rawToDense views a raw array as a dense tensor, sharing the backing slice.
func rawToDense(r *raws.Raw) (*tensor.Dense, error) {
	switch r.FlatAny().(type) {
	case []float32, []float64, []int32, []int64:
		return tensor.New(tensor.WithShape(r.Shape().Dimensions...), tensor.WithBacking(r.FlatAny())), nil
	}
	return nil, errors.Errorf("DenseAdapter: raw array dtype %s is not supported", r.DType())
}

// Predict runs one inference. Inputs are viewed as raw arrays and outputs come back
// as dense tensors over the runtime's output buffers, with no copies in either
// direction. Input and output positional order is preserved exactly.
func (a *DenseAdapter) Predict(inputs ...*tensor.Dense) ([]*tensor.Dense, error) {
	rawInputs := make([]*raws.Raw, len(inputs))
	for i, input := range inputs {
		raw, err := denseToRaw(input)
		if err != nil {
			return nil, err
		}
		rawInputs[i] = raw
	}
	rawOutputs, err := a.handle.PredictRaw(rawInputs)
	if err != nil {
		return nil, err
	}
	outputs := make([]*tensor.Dense, len(rawOutputs))
	for i, raw := range rawOutputs {
		outputs[i], err = rawToDense(raw)
		if err != nil {
			return nil, err
		}
	}
	return outputs, nil
}
