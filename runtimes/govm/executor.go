package govm

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/inferkit/runtimes"
	"github.com/gomlx/inferkit/types/raws"
)

// graphExecutor implements runtimes.GraphExecutor. It holds the bound input slots,
// which makes it unsafe for concurrent use -- callers serialize access.
type graphExecutor struct {
	module  *Module
	device  runtimes.Device
	bound   map[string]*raws.Raw
	outputs []*raws.Raw
}

func newGraphExecutor(m *Module, device runtimes.Device) *graphExecutor {
	return &graphExecutor{
		module: m,
		device: device,
		bound:  make(map[string]*raws.Raw, len(m.prog.Inputs)),
	}
}

// SetInput binds one named input slot.
func (e *graphExecutor) SetInput(name string, value *raws.Raw) error {
	if err := e.module.CheckValid(); err != nil {
		return err
	}
	for _, declared := range e.module.prog.Inputs {
		if declared == name {
			e.bound[name] = value
			return nil
		}
	}
	return errors.Wrapf(runtimes.ErrUnknownInput, "runtime %q: program %q has no input %q (inputs: %v)",
		RuntimeName, e.module.prog.Name, name, e.module.prog.Inputs)
}

// Run executes every layer of the program over the bound inputs. Any fault -- an
// unbound input, a dtype or shape mismatch -- surfaces as runtimes.ErrExecution.
func (e *graphExecutor) Run() error {
	if err := e.module.CheckValid(); err != nil {
		return err
	}
	prog := e.module.prog
	outputs := make([]*raws.Raw, len(prog.Layers))
	for i, layer := range prog.Layers {
		in, found := e.bound[layer.Input]
		if !found {
			return errors.Wrapf(runtimes.ErrExecution, "runtime %q: program %q: input %q is not bound",
				RuntimeName, prog.Name, layer.Input)
		}
		out, err := e.runDense(&layer, in)
		if err != nil {
			return errors.Wrapf(err, "runtime %q: program %q, layer #%d", RuntimeName, prog.Name, i)
		}
		outputs[i] = out
	}
	e.outputs = outputs
	return nil
}

// runDense computes activation(in x Weights + Bias) with float64 accumulation via
// gonum, returning a (batch, OutputDim) float32 raw array.
func (e *graphExecutor) runDense(layer *layerSpec, in *raws.Raw) (*raws.Raw, error) {
	shape := in.Shape()
	if shape.DType != dtypes.Float32 {
		return nil, errors.Wrapf(runtimes.ErrExecution, "input %q has dtype %s, govm executes Float32 only",
			layer.Input, shape.DType)
	}
	if shape.Rank() != 2 || shape.Dimensions[1] != layer.InputDim {
		return nil, errors.Wrapf(runtimes.ErrExecution, "input %q has shape %s, want (batch, %d)",
			layer.Input, shape, layer.InputDim)
	}
	batch := shape.Dimensions[0]

	inFlat := raws.Flat[float32](in)
	inData := make([]float64, len(inFlat))
	for i, v := range inFlat {
		inData[i] = float64(v)
	}
	weights := make([]float64, len(layer.Weights))
	for i, v := range layer.Weights {
		weights[i] = float64(v)
	}

	var result mat.Dense
	result.Mul(mat.NewDense(batch, layer.InputDim, inData), mat.NewDense(layer.InputDim, layer.OutputDim, weights))

	outFlat := make([]float32, batch*layer.OutputDim)
	for row := 0; row < batch; row++ {
		for col := 0; col < layer.OutputDim; col++ {
			v := result.At(row, col)
			if layer.Bias != nil {
				v += float64(layer.Bias[col])
			}
			switch layer.Activation {
			case ActivationReLU:
				v = math.Max(v, 0)
			case ActivationTanh:
				v = math.Tanh(v)
			case ActivationSigmoid:
				v = 1 / (1 + math.Exp(-v))
			}
			outFlat[row*layer.OutputDim+col] = float32(v)
		}
	}
	return raws.FromFlat(outFlat, batch, layer.OutputDim), nil
}

// GetOutput copies the index-th output of the last Run into out.
func (e *graphExecutor) GetOutput(index int, out *raws.Raw) error {
	if err := e.module.CheckValid(); err != nil {
		return err
	}
	if e.outputs == nil {
		return errors.Wrapf(runtimes.ErrExecution, "runtime %q: GetOutput(%d) before Run", RuntimeName, index)
	}
	if index < 0 || index >= len(e.outputs) {
		return errors.Wrapf(runtimes.ErrExecution, "runtime %q: GetOutput(%d) out of range, program has %d outputs",
			RuntimeName, index, len(e.outputs))
	}
	produced := e.outputs[index]
	if !out.Shape().Equal(produced.Shape()) {
		return errors.Wrapf(runtimes.ErrExecution, "runtime %q: GetOutput(%d) buffer has shape %s, output has shape %s",
			RuntimeName, index, out.Shape(), produced.Shape())
	}
	copy(raws.Flat[float32](out), raws.Flat[float32](produced))
	return nil
}

// NumOutputs returns the number of outputs the program produces.
func (e *graphExecutor) NumOutputs() int {
	return len(e.module.prog.Layers)
}

// Device this executor is bound to.
func (e *graphExecutor) Device() runtimes.Device { return e.device }

// Finalize drops the bound inputs and the last outputs.
func (e *graphExecutor) Finalize() {
	if e == nil {
		return
	}
	e.bound = nil
	e.outputs = nil
	e.module = nil
}
