package govm

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/runtimes"
)

// Activation names accepted by Builder.Dense.
const (
	ActivationNone    = ""
	ActivationReLU    = "relu"
	ActivationTanh    = "tanh"
	ActivationSigmoid = "sigmoid"
)

// layerSpec is one dense layer of a compiled program. Each layer consumes one named
// input slot and produces one graph output: out = activation(in x Weights + Bias),
// with in shaped (batch, InputDim) and out shaped (batch, OutputDim).
type layerSpec struct {
	Input      string
	InputDim   int
	OutputDim  int
	Weights    []float32 // InputDim x OutputDim, row-major.
	Bias       []float32 // Length OutputDim, or nil.
	Activation string
}

// program is the serialized form of a compiled govm module.
type program struct {
	Name   string
	Inputs []string // Declared input slot names, in order.
	Layers []layerSpec
}

// Module blob layout: magic, one version byte, then the gob-encoded program.
var moduleMagic = []byte("GOVM")

const moduleVersion = byte(1)

func encodeProgram(prog *program) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(moduleMagic)
	buf.WriteByte(moduleVersion)
	if err := gob.NewEncoder(&buf).Encode(prog); err != nil {
		return nil, errors.Wrapf(err, "runtime %q: failed to serialize module %q", RuntimeName, prog.Name)
	}
	return buf.Bytes(), nil
}

func decodeProgram(exported []byte) (*program, error) {
	if len(exported) < len(moduleMagic)+1 || !bytes.Equal(exported[:len(moduleMagic)], moduleMagic) {
		return nil, errors.Errorf("runtime %q: data is not an exported govm module", RuntimeName)
	}
	if v := exported[len(moduleMagic)]; v != moduleVersion {
		return nil, errors.Errorf("runtime %q: unsupported module version %d", RuntimeName, v)
	}
	prog := &program{}
	dec := gob.NewDecoder(bytes.NewReader(exported[len(moduleMagic)+1:]))
	if err := dec.Decode(prog); err != nil {
		return nil, errors.Wrapf(err, "runtime %q: failed to deserialize module", RuntimeName)
	}
	return prog, nil
}

// Module implements runtimes.Module for govm.
type Module struct {
	runtime *Runtime
	prog    *program
}

// Runtime that owns this module.
func (m *Module) Runtime() runtimes.Runtime { return m.runtime }

// Name of the compiled program.
func (m *Module) Name() string { return m.prog.Name }

// CheckValid returns an error if the module or its runtime were finalized.
func (m *Module) CheckValid() error {
	if m == nil || m.prog == nil || m.runtime == nil || m.runtime.finalized {
		return errors.Errorf("runtime %q: Module is nil or already finalized", RuntimeName)
	}
	return nil
}

// Instantiate creates a GraphExecutor bound to the given device, from the module's
// default entry point.
func (m *Module) Instantiate(device runtimes.Device) (runtimes.GraphExecutor, error) {
	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	if device.Kind != "cpu" {
		return nil, errors.Wrapf(runtimes.ErrDeviceResolution,
			"runtime %q: cannot instantiate module %q on device %s", RuntimeName, m.prog.Name, device)
	}
	return newGraphExecutor(m, device), nil
}

// Export serializes the module so it can be re-imported with Runtime.LoadModule.
func (m *Module) Export() ([]byte, error) {
	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	return encodeProgram(m.prog)
}

// Finalize immediately frees resources associated with the module.
func (m *Module) Finalize() {
	if m == nil {
		return
	}
	m.prog = nil
	m.runtime = nil
}

// Builder assembles a govm program. It stands in for the compiler side of the
// module contract: real deployments receive an already-exported module, tests and
// examples build one here.
//
// Usage: rt.Builder(name).Input("x").Dense("x", weights, 4, 2, bias, ActivationReLU).Compile()
type Builder struct {
	runtime *Runtime
	prog    program
	err     error
}

// Builder creates a new Builder for a named program.
func (r *Runtime) Builder(name string) *Builder {
	r.AssertValid()
	return &Builder{runtime: r, prog: program{Name: name}}
}

func (b *Builder) setError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Input declares a named input slot. Declaration order defines the slot order.
func (b *Builder) Input(name string) *Builder {
	for _, existing := range b.prog.Inputs {
		if existing == name {
			b.setError(errors.Errorf("runtime %q: input %q declared twice in program %q",
				RuntimeName, name, b.prog.Name))
			return b
		}
	}
	b.prog.Inputs = append(b.prog.Inputs, name)
	return b
}

// Dense appends a dense layer consuming the named input slot and producing the next
// graph output: out = activation(in x weights + bias). weights must have
// inputDim*outputDim values (row-major), bias must be nil or have outputDim values.
func (b *Builder) Dense(input string, weights []float32, inputDim, outputDim int, bias []float32, activation string) *Builder {
	if inputDim <= 0 || outputDim <= 0 {
		b.setError(errors.Errorf("runtime %q: dense layer dimensions must be positive, got (%d, %d)",
			RuntimeName, inputDim, outputDim))
		return b
	}
	if len(weights) != inputDim*outputDim {
		b.setError(errors.Errorf("runtime %q: dense layer on %q: got %d weights, want %d x %d = %d",
			RuntimeName, input, len(weights), inputDim, outputDim, inputDim*outputDim))
		return b
	}
	if bias != nil && len(bias) != outputDim {
		b.setError(errors.Errorf("runtime %q: dense layer on %q: got %d bias values, want %d",
			RuntimeName, input, len(bias), outputDim))
		return b
	}
	switch activation {
	case ActivationNone, ActivationReLU, ActivationTanh, ActivationSigmoid:
	default:
		b.setError(errors.Errorf("runtime %q: unknown activation %q", RuntimeName, activation))
		return b
	}
	found := false
	for _, name := range b.prog.Inputs {
		if name == input {
			found = true
			break
		}
	}
	if !found {
		b.setError(errors.Errorf("runtime %q: dense layer consumes undeclared input %q", RuntimeName, input))
		return b
	}
	b.prog.Layers = append(b.prog.Layers, layerSpec{
		Input:      input,
		InputDim:   inputDim,
		OutputDim:  outputDim,
		Weights:    weights,
		Bias:       bias,
		Activation: activation,
	})
	return b
}

// Compile finishes the program and returns the compiled Module.
func (b *Builder) Compile() (*Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.prog.Layers) == 0 {
		return nil, errors.Errorf("runtime %q: program %q has no layers", RuntimeName, b.prog.Name)
	}
	prog := b.prog
	return &Module{runtime: b.runtime, prog: &prog}, nil
}
