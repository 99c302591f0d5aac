// Package runtimes defines the interface a compiled-model runtime needs to implement
// to execute artifacts for inferkit.
//
// A Runtime owns device resolution and the import side of the module export/import
// contract. A Module is an already-compiled executable -- compilation itself happens
// elsewhere; this package only runs and persists its result. A GraphExecutor is a
// device-bound instantiation of a Module: named input slots are bound with SetInput,
// Run executes the whole graph synchronously, and outputs are fetched by index with
// GetOutput.
//
// Runtimes register themselves during package initialization, see Register. Whether a
// given runtime is compiled in is probed explicitly with Available or List -- there is
// no silent fallback when one is missing.
package runtimes

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/types/raws"
)

var (
	// ErrDeviceResolution is returned when a target string cannot be resolved to a
	// device by the runtime.
	ErrDeviceResolution = errors.New("cannot resolve target to a device")

	// ErrUnknownInput is returned by GraphExecutor.SetInput for an input name not
	// registered in the execution context.
	ErrUnknownInput = errors.New("unknown input name")

	// ErrExecution is returned when the runtime reports a failure while executing the
	// compiled graph: shape mismatches, unbound inputs, device faults. It is
	// propagated to the caller untranslated, never retried.
	ErrExecution = errors.New("graph execution fault")
)

// DeviceNum is the ordinal of a device within its kind. It's up to the runtime to
// interpret it.
type DeviceNum int

// Device is a resolved execution placement, produced by Runtime.ResolveDevice from a
// target string.
type Device struct {
	// Kind of the device, e.g. "cpu".
	Kind string

	// Num of the device within its kind.
	Num DeviceNum
}

// String implements fmt.Stringer.
func (d Device) String() string {
	if d.Num == 0 {
		return d.Kind
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Num)
}

// Runtime is the API a compiled-model execution backend needs to implement.
type Runtime interface {
	// Name returns the short name the runtime was registered under, e.g. "govm".
	Name() string

	// Description is a longer description of the runtime that can be used to
	// pretty-print.
	Description() string

	// ResolveDevice resolves a target string (e.g. "cpu") to a Device. It fails with
	// ErrDeviceResolution if the target is not valid for this runtime.
	ResolveDevice(target string) (Device, error)

	// LoadModule imports a compiled module previously serialized with Module.Export.
	LoadModule(exported []byte) (Module, error)

	// Finalize releases all associated resources immediately and makes the runtime
	// invalid.
	Finalize()
}

// Module is a compiled executable owned by a runtime. It is opaque to the rest of
// inferkit except for its export/import contract.
type Module interface {
	// Runtime that owns this module.
	Runtime() Runtime

	// Instantiate creates a GraphExecutor bound to the given device, from the
	// module's default entry point.
	Instantiate(device Device) (GraphExecutor, error)

	// Export serializes the module so it can be re-imported with
	// Runtime.LoadModule.
	Export() ([]byte, error)

	// Finalize immediately frees resources associated with the module. Executors
	// instantiated from it become invalid.
	Finalize()
}

// GraphExecutor is a device-bound execution context for a Module.
//
// Bound inputs are mutable state: a GraphExecutor is not safe for concurrent use.
type GraphExecutor interface {
	// SetInput binds one named input slot. It fails with ErrUnknownInput if the name
	// is not registered in the execution context.
	SetInput(name string, value *raws.Raw) error

	// Run executes the full forward graph over the bound inputs. It blocks until the
	// execution finishes, and fails with ErrExecution on any runtime fault.
	Run() error

	// GetOutput copies the index-th output of the last Run into out, which must be
	// allocated with the output's shape.
	GetOutput(index int, out *raws.Raw) error

	// NumOutputs returns the number of outputs the compiled graph produces.
	NumOutputs() int

	// Device this executor is bound to.
	Device() Device

	// Finalize immediately frees resources associated with the executor.
	Finalize()
}
