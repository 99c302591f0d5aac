// Package tensors implements Tensor, a multi-dimensional array used as the host-side
// input/output type for model execution.
//
// Unlike the backend-neutral raws.Raw, a Tensor carries framework state: the device it
// is bound to and whether it is tracked for gradients. Lowering a Tensor for execution
// strips both (see Detach and the frameworks package bridge), and outputs are rebound
// to the device of the caller's inputs.
//
// A Tensor is always stored as a flat (1D) slice of the Go type corresponding to its
// shape's DType.
package tensors

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/types/raws"
	"github.com/gomlx/inferkit/types/shapes"
)

// ErrUnsupportedDeviceKind is returned when a tensor is asked to bind to a device kind
// the framework cannot resolve.
var ErrUnsupportedDeviceKind = errors.New("unsupported device kind")

// Device identifies where a Tensor is placed. It is either a named kind (e.g. "cpu",
// "cuda") with an ordinal, or a bare ordinal with no kind -- the form low-level APIs
// hand out when only an accelerator index is known.
type Device struct {
	// Kind of the device, e.g. "cpu" or "cuda". Empty for a bare ordinal device.
	Kind string

	// Ordinal of the device within its kind.
	Ordinal int
}

// CPU is the default host device.
var CPU = Device{Kind: "cpu"}

// DeviceOf returns a named device with ordinal 0.
func DeviceOf(kind string) Device { return Device{Kind: kind} }

// DeviceOrdinal returns a bare ordinal device, with no kind attached.
func DeviceOrdinal(n int) Device { return Device{Ordinal: n} }

// IsOrdinal reports whether the device is a bare ordinal, with no kind.
func (d Device) IsOrdinal() bool { return d.Kind == "" }

// String implements fmt.Stringer.
func (d Device) String() string {
	if d.IsOrdinal() {
		return fmt.Sprintf("device(%d)", d.Ordinal)
	}
	if d.Ordinal == 0 {
		return d.Kind
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}

// supportedDeviceKinds are the kinds this framework can bind tensors to. Binding is
// pure bookkeeping here -- data always lives in host memory -- but unknown kinds are
// rejected the same way a real placement would be.
var supportedDeviceKinds = map[string]bool{
	"cpu":  true,
	"cuda": true,
}

// Tensor represents a multidimensional array defined by its shape and its flat
// contents, bound to a Device.
//
// Tensors returned by constructors are bound to CPU and not gradient-tracked.
type Tensor struct {
	shape        shapes.Shape
	flat         any
	device       Device
	requiresGrad bool
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, initialized
// with the given flattened data. The data is copied. It panics if len(data) doesn't
// match the given dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	r := raws.FromFlat(data, dimensions...)
	return &Tensor{shape: r.Shape(), flat: r.FlatAny(), device: CPU}
}

// FromScalar creates a scalar (rank-0) tensor with the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromRaw creates a CPU tensor copying the contents of the given raw array.
func FromRaw(r *raws.Raw) *Tensor {
	c := r.Clone()
	return &Tensor{shape: c.Shape(), flat: c.FlatAny(), device: CPU}
}

// AssertValid panics if the tensor is nil or holds no data.
func (t *Tensor) AssertValid() {
	if t == nil || t.flat == nil {
		exceptions.Panicf("tensors.Tensor is nil or has no data")
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Device the tensor is bound to.
func (t *Tensor) Device() Device { return t.device }

// RequiresGrad reports whether the tensor is tracked for gradients.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad marks the tensor for gradient tracking and returns it.
func (t *Tensor) SetRequiresGrad(value bool) *Tensor {
	t.AssertValid()
	t.requiresGrad = value
	return t
}

// Detach returns a view of the tensor with gradient tracking stripped. The data is
// shared with the original, which is left unchanged.
func (t *Tensor) Detach() *Tensor {
	t.AssertValid()
	if !t.requiresGrad {
		return t
	}
	return &Tensor{shape: t.shape, flat: t.flat, device: t.device}
}

// ToDevice returns the tensor bound to the given device. The data itself stays in host
// memory. It fails with ErrUnsupportedDeviceKind if the device kind is not one the
// framework resolves.
//
// Bare ordinal devices are accepted unchanged.
func (t *Tensor) ToDevice(device Device) (*Tensor, error) {
	t.AssertValid()
	if !device.IsOrdinal() && !supportedDeviceKinds[device.Kind] {
		return nil, errors.Wrapf(ErrUnsupportedDeviceKind, "cannot bind tensor to device %s", device)
	}
	if device == t.device {
		return t, nil
	}
	t2 := &Tensor{shape: t.shape, flat: t.flat, device: device, requiresGrad: t.requiresGrad}
	return t2, nil
}

// ToRaw lowers the tensor to a backend-neutral raw array, copying the flat data to a
// buffer detached from the tensor (and from any gradient tracking).
func (t *Tensor) ToRaw() *raws.Raw {
	t.AssertValid()
	return raws.FromAnyFlat(t.shape, t.flat)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. The slice is owned by the tensor and must not be mutated.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	accessFn(t.flat.([]T))
}

// CopyFlatData returns a copy of the tensor flat data as a []T.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var result []T
	ConstFlatData(t, func(flat []T) {
		result = make([]T, len(flat))
		copy(result, flat)
	})
	return result
}

// Equal reports whether two tensors have the same shape and bit-for-bit identical
// contents. Device binding and gradient tracking are not compared.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.ToRaw().Equal(o.ToRaw())
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("tensors.Tensor%s@%s", t.shape, t.device)
}
