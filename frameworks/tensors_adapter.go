package frameworks

import (
	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/learners"
	"github.com/gomlx/inferkit/types/raws"
	"github.com/gomlx/inferkit/types/tensors"
)

// TensorsAdapter executes a compiled module over types/tensors.Tensor values,
// tracking device identity: outputs are rebound to the (normalized) device of the
// first input tensor.
type TensorsAdapter struct {
	handle *learners.Handle
}

// Framework identity this adapter serves.
func (a *TensorsAdapter) Framework() Framework { return FrameworkTensors }

// Handle returns the underlying compiled-module handle.
func (a *TensorsAdapter) Handle() *learners.Handle { return a.handle }

// NormalizeDevice resolves the device identity outputs are rebound to: a bare
// ordinal device (an integer accelerator index) normalizes to the generic host
// "cpu" identity; any named identity passes through unchanged.
//
// This is a narrow normalization for the one ambiguous form low-level APIs hand out,
// not a general device-mapping scheme.
func NormalizeDevice(device tensors.Device) tensors.Device {
	if device.IsOrdinal() {
		return tensors.CPU
	}
	return device
}

// Predict runs one inference. Every input tensor is detached from gradient tracking
// and lowered to a host raw array; outputs are lifted back to tensors bound to the
// device of the first input. Input and output positional order is preserved exactly.
//
// Device rebinding failures surface as tensors.ErrUnsupportedDeviceKind; execution
// faults propagate from the handle untranslated.
func (a *TensorsAdapter) Predict(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	if len(inputs) == 0 {
		return nil, errors.Errorf("TensorsAdapter.Predict: at least one input tensor required")
	}
	device := NormalizeDevice(inputs[0].Device())
	rawInputs := make([]*raws.Raw, len(inputs))
	for i, input := range inputs {
		rawInputs[i] = input.Detach().ToRaw()
	}
	rawOutputs, err := a.handle.PredictRaw(rawInputs)
	if err != nil {
		return nil, err
	}
	outputs := make([]*tensors.Tensor, len(rawOutputs))
	for i, raw := range rawOutputs {
		outputs[i], err = tensors.FromRaw(raw).ToDevice(device)
		if err != nil {
			return nil, err
		}
	}
	return outputs, nil
}
