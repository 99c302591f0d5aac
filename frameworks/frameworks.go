// Package frameworks adapts host tensor frameworks to the compiled-module execution
// handle.
//
// Two host tensor conventions are supported, with one adapter each:
//
//   - FrameworkTensors: the device-tagged types/tensors.Tensor. Its adapter tracks
//     the device of the caller's inputs, lowers every tensor to a raw array
//     (detaching gradient state and copying to host memory), and rebinds every
//     output to the detected device.
//   - FrameworkDense: the gorgonia-style github.com/pdevine/tensor dense tensor. Its
//     adapter converts in both directions as allocation-preserving views and leaves
//     device placement entirely to that framework.
//
// Adapters are selected through a static dispatch table, see New. Both preserve the
// positional order of inputs and outputs exactly -- position is the only correlation
// mechanism to the module's named/ordered slots.
package frameworks

import (
	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/learners"
)

// ErrUnsupportedFramework is returned by New for a framework identity not in the
// dispatch table.
var ErrUnsupportedFramework = errors.New("unsupported host framework")

// Framework enumerates the supported host tensor frameworks.
type Framework int

const (
	// FrameworkTensors selects the device-tagged types/tensors adapter.
	FrameworkTensors Framework = iota

	// FrameworkDense selects the github.com/pdevine/tensor dense-tensor adapter.
	FrameworkDense
)

// String implements fmt.Stringer.
func (f Framework) String() string {
	switch f {
	case FrameworkTensors:
		return "tensors"
	case FrameworkDense:
		return "dense"
	}
	return "invalid"
}

// Adapter is the common surface of the per-framework execution adapters. The typed
// Predict methods live on the concrete types (TensorsAdapter, DenseAdapter), since
// each takes its framework's own tensor type.
type Adapter interface {
	// Framework identity this adapter serves.
	Framework() Framework

	// Handle returns the underlying compiled-module handle.
	Handle() *learners.Handle
}

// adapterBuilders is the dispatch table from framework identity to adapter
// constructor. It is read-only after initialization and safe for concurrent lookup.
var adapterBuilders = map[Framework]func(handle *learners.Handle) Adapter{
	FrameworkTensors: func(handle *learners.Handle) Adapter { return &TensorsAdapter{handle: handle} },
	FrameworkDense:   func(handle *learners.Handle) Adapter { return &DenseAdapter{handle: handle} },
}

// New returns the execution adapter for the given framework identity, wrapping the
// given handle. It fails with ErrUnsupportedFramework for an unknown identity.
func New(framework Framework, handle *learners.Handle) (Adapter, error) {
	builder, found := adapterBuilders[framework]
	if !found {
		return nil, errors.Wrapf(ErrUnsupportedFramework, "framework %d", framework)
	}
	handle.AssertValid()
	return builder(handle), nil
}
