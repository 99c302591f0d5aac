// Package learners implements Handle, the execution handle that owns a compiled
// module and exposes array-level inference over it.
//
// A Handle pairs a runtimes.Module with the structural metadata a compiled artifact
// needs to be run: the model parameters (batch size and output sizes), the ordered
// list of input names, and the target device string. It instantiates the module's
// execution context on construction and drives the set-input / run / get-output
// sequence in PredictRaw.
//
// A Handle owns mutable execution state (the context's bound inputs) and is NOT safe
// for concurrent use: serialize calls externally, or use one Handle per worker.
package learners

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/gomlx/inferkit/runtimes"
	"github.com/gomlx/inferkit/types/raws"
	"github.com/gomlx/inferkit/types/shapes"
)

// ModelParams is the immutable structural descriptor of a compiled model: the batch
// size it was compiled for, and the per-output shapes (without the batch axis).
// It is created once at compile time and read-only thereafter.
type ModelParams struct {
	BatchSize   int
	OutputSizes [][]int
	DType       dtypes.DType
}

// MakeParams returns a ModelParams with the given batch size and output sizes, with
// Float32 outputs. It panics if batchSize or any output dimension is not positive, or
// if there are no outputs.
func MakeParams(batchSize int, outputSizes [][]int) ModelParams {
	return MakeParamsWithDType(batchSize, outputSizes, dtypes.Float32)
}

// MakeParamsWithDType is MakeParams with an explicit output DType.
func MakeParamsWithDType(batchSize int, outputSizes [][]int, dtype dtypes.DType) ModelParams {
	if batchSize <= 0 {
		exceptions.Panicf("learners.MakeParams: batch size must be positive, got %d", batchSize)
	}
	if len(outputSizes) == 0 {
		exceptions.Panicf("learners.MakeParams: at least one output size required")
	}
	copied := make([][]int, len(outputSizes))
	for i, size := range outputSizes {
		for _, dim := range size {
			if dim <= 0 {
				exceptions.Panicf("learners.MakeParams: output #%d has non-positive dimension in %v", i, size)
			}
		}
		copied[i] = slices.Clone(size)
	}
	return ModelParams{BatchSize: batchSize, OutputSizes: copied, DType: dtype}
}

// NumOutputs the model produces.
func (p ModelParams) NumOutputs() int { return len(p.OutputSizes) }

// OutputShape returns the full shape of the index-th output: the batch size prefixed
// to the output size.
func (p ModelParams) OutputShape(index int) shapes.Shape {
	size := p.OutputSizes[index]
	dims := make([]int, 0, len(size)+1)
	dims = append(dims, p.BatchSize)
	dims = append(dims, size...)
	return shapes.Make(p.DType, dims...)
}

// Handle owns a compiled module and its device-bound execution context.
//
// Not safe for concurrent use, see package documentation.
type Handle struct {
	params     ModelParams
	module     runtimes.Module
	exec       runtimes.GraphExecutor
	inputNames []string
	target     string
}

// FromRuntimeModule constructs a Handle from an already-compiled module: it resolves
// the target device string with the module's runtime, instantiates the execution
// context bound to that device, and wires the ordered input names used to pair
// positional inputs to the module's named slots.
//
// It fails with runtimes.ErrDeviceResolution (wrapped) if the target string is
// invalid for the runtime.
func FromRuntimeModule(params ModelParams, module runtimes.Module, targetDevice string, inputNames []string) (*Handle, error) {
	device, err := module.Runtime().ResolveDevice(targetDevice)
	if err != nil {
		return nil, err
	}
	exec, err := module.Instantiate(device)
	if err != nil {
		return nil, err
	}
	return &Handle{
		params:     params,
		module:     module,
		exec:       exec,
		inputNames: slices.Clone(inputNames),
		target:     targetDevice,
	}, nil
}

// AssertValid panics if the handle is nil or was finalized.
func (h *Handle) AssertValid() {
	if h == nil || h.exec == nil {
		exceptions.Panicf("learners.Handle is nil or was already finalized")
	}
}

// Params returns the model parameters the module was compiled with.
func (h *Handle) Params() ModelParams { return h.params }

// InputNames returns the ordered input names. The order defines the
// positional-to-named mapping used by PredictRaw.
func (h *Handle) InputNames() []string { return slices.Clone(h.inputNames) }

// Target returns the device target string the handle was constructed with.
func (h *Handle) Target() string { return h.target }

// Module returns the compiled module owned by the handle.
func (h *Handle) Module() runtimes.Module {
	h.AssertValid()
	return h.module
}

// SetInput binds one named input slot in the execution context. It fails with
// runtimes.ErrUnknownInput if the name is not registered.
func (h *Handle) SetInput(name string, value *raws.Raw) error {
	h.AssertValid()
	return h.exec.SetInput(name, value)
}

// Run triggers full forward execution of the bound inputs against the compiled
// graph. It blocks until the runtime finishes; faults surface as
// runtimes.ErrExecution, untranslated and never retried.
func (h *Handle) Run() error {
	h.AssertValid()
	return h.exec.Run()
}

// GetOutput retrieves the index-th output into out, which must be allocated with
// shape Params().OutputShape(index).
func (h *Handle) GetOutput(index int, out *raws.Raw) error {
	h.AssertValid()
	return h.exec.GetOutput(index, out)
}

// PredictRaw executes one inference over raw arrays: each (name, array) pair -- taken
// positionally from the ordered input names zipped against inputs -- is bound with
// SetInput, Run is called exactly once, and every output is fetched in
// ModelParams.OutputSizes order into a freshly allocated buffer.
//
// The pairing is positional and stops at the shorter of the two lists: extra inputs
// (or extra names) are silently ignored. Callers that need strict arity checking do it
// before calling.
//
// Output order mirrors OutputSizes order; there is no name-based output lookup.
func (h *Handle) PredictRaw(inputs []*raws.Raw) ([]*raws.Raw, error) {
	h.AssertValid()
	n := min(len(h.inputNames), len(inputs))
	for i := 0; i < n; i++ {
		if err := h.SetInput(h.inputNames[i], inputs[i]); err != nil {
			return nil, err
		}
	}
	if err := h.Run(); err != nil {
		return nil, err
	}
	outputs := make([]*raws.Raw, h.params.NumOutputs())
	for i := range outputs {
		out := raws.Zeros(h.params.OutputShape(i))
		if err := h.GetOutput(i, out); err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}

// Finalize releases the execution context and the compiled module. The handle
// becomes invalid.
func (h *Handle) Finalize() {
	if h == nil || h.exec == nil {
		return
	}
	klog.V(1).Infof("finalizing %s", h)
	h.exec.Finalize()
	h.exec = nil
	h.module.Finalize()
	h.module = nil
}

// String implements fmt.Stringer.
func (h *Handle) String() string {
	return fmt.Sprintf("learners.Handle(target=%q, inputs=%v, batch=%d)", h.target, h.inputNames, h.params.BatchSize)
}
