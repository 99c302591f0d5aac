// Package raws defines Raw, a backend-neutral, shape-and-dtype-tagged flat numeric
// buffer.
//
// Raw is the lingua franca between host tensor frameworks and runtime executors:
// host tensors are lowered to a Raw before execution, and runtime outputs come back
// as Raw values that the framework adapters lift into host tensors again. It carries
// no device association -- it always lives in host memory.
//
// A Raw is always stored as a flat (1D) Go slice of the type corresponding to its
// shape's DType. Float16 values use the github.com/x448/float16 representation.
package raws

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	"github.com/gomlx/inferkit/types/shapes"
)

// Raw is a flat numeric buffer tagged with its shape and dtype.
//
// Use FromFlat or Zeros to create one. The flat data is a []T where T is the Go type
// of the shape's DType.
type Raw struct {
	shape shapes.Shape
	flat  any
}

// FromFlat creates a Raw with the given dimensions, copying the flattened values from
// data. The dtype is inferred from T. It panics if len(data) doesn't match the size of
// the shape.
func FromFlat[T dtypes.Supported](data []T, dimensions ...int) *Raw {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("raws.FromFlat[%s](%v): got %d values, shape requires %d",
			shape.DType, dimensions, len(data), shape.Size())
	}
	return &Raw{shape: shape, flat: slices.Clone(data)}
}

// WrapFlat creates a Raw with the given dimensions sharing the backing slice data --
// no copy is made, and mutations of data are visible through the Raw. It panics if
// len(data) doesn't match the size of the shape.
//
// Use FromFlat for an owning copy instead.
func WrapFlat[T dtypes.Supported](data []T, dimensions ...int) *Raw {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("raws.WrapFlat[%s](%v): got %d values, shape requires %d",
			shape.DType, dimensions, len(data), shape.Size())
	}
	return &Raw{shape: shape, flat: data}
}

// FromAnyFlat creates a Raw of the given shape copying values from flat, which must be
// a []T of the Go type corresponding to the shape's DType, with exactly shape.Size()
// elements. It panics otherwise.
func FromAnyFlat(shape shapes.Shape, flat any) *Raw {
	r := Zeros(shape.Clone())
	src := reflect.ValueOf(flat)
	if src.Kind() != reflect.Slice || src.Type() != reflect.TypeOf(r.flat) {
		exceptions.Panicf("raws.FromAnyFlat(%s): flat data has type %T, expected %T", shape, flat, r.flat)
	}
	if src.Len() != shape.Size() {
		exceptions.Panicf("raws.FromAnyFlat(%s): got %d values, shape requires %d", shape, src.Len(), shape.Size())
	}
	reflect.Copy(reflect.ValueOf(r.flat), src)
	return r
}

// Zeros returns a Raw of the given shape with zero-initialized storage.
func Zeros(shape shapes.Shape) *Raw {
	if !shape.Ok() {
		exceptions.Panicf("raws.Zeros: invalid shape %s", shape)
	}
	r := &Raw{shape: shape}
	size := shape.Size()
	switch shape.DType {
	case dtypes.Float32:
		r.flat = make([]float32, size)
	case dtypes.Float64:
		r.flat = make([]float64, size)
	case dtypes.Float16:
		r.flat = make([]float16.Float16, size)
	case dtypes.Int8:
		r.flat = make([]int8, size)
	case dtypes.Int16:
		r.flat = make([]int16, size)
	case dtypes.Int32:
		r.flat = make([]int32, size)
	case dtypes.Int64:
		r.flat = make([]int64, size)
	case dtypes.Uint8:
		r.flat = make([]uint8, size)
	case dtypes.Uint16:
		r.flat = make([]uint16, size)
	case dtypes.Uint32:
		r.flat = make([]uint32, size)
	case dtypes.Uint64:
		r.flat = make([]uint64, size)
	case dtypes.Bool:
		r.flat = make([]bool, size)
	default:
		exceptions.Panicf("raws.Zeros: unsupported dtype in shape %s", shape)
	}
	return r
}

// Shape of the raw array.
func (r *Raw) Shape() shapes.Shape { return r.shape }

// DType of the raw array elements.
func (r *Raw) DType() dtypes.DType { return r.shape.DType }

// Size returns the number of elements.
func (r *Raw) Size() int { return r.shape.Size() }

// FlatAny returns the flat data as an anonymous `any`: a []T of the DType's Go type.
// The slice is owned by the Raw.
func (r *Raw) FlatAny() any { return r.flat }

// Flat returns the flat data of the Raw as a []T. The slice is owned by the Raw, not
// a copy. It panics if T is not the Go type of the Raw's DType.
func Flat[T dtypes.Supported](r *Raw) []T {
	if r.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("raws.Flat[%T] is incompatible with Raw's dtype %s", v, r.shape.DType)
	}
	return r.flat.([]T)
}

// CopyFlat returns a copy of the flat data as a []T. It panics if T is not the Go type
// of the Raw's DType.
func CopyFlat[T dtypes.Supported](r *Raw) []T {
	return slices.Clone(Flat[T](r))
}

// ConstBytes calls accessFn with the raw storage viewed as bytes. The slice aliases
// the Raw's data and must not be mutated.
func (r *Raw) ConstBytes(accessFn func(data []byte)) {
	flatV := reflect.ValueOf(r.flat)
	if flatV.Len() == 0 {
		accessFn(nil)
		return
	}
	element0 := flatV.Index(0)
	flatValuesPtr := element0.Addr().UnsafePointer()
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()
	accessFn(unsafe.Slice((*byte)(flatValuesPtr), sizeBytes))
}

// Equal reports whether two raw arrays have the same shape and bit-for-bit identical
// contents.
func (r *Raw) Equal(o *Raw) bool {
	if r == nil || o == nil {
		return r == o
	}
	if !r.shape.Equal(o.shape) {
		return false
	}
	equal := false
	r.ConstBytes(func(a []byte) {
		o.ConstBytes(func(b []byte) {
			equal = bytes.Equal(a, b)
		})
	})
	return equal
}

// Clone returns a deep copy of the Raw.
func (r *Raw) Clone() *Raw {
	c := Zeros(r.shape.Clone())
	reflect.Copy(reflect.ValueOf(c.flat), reflect.ValueOf(r.flat))
	return c
}

// String implements fmt.Stringer.
func (r *Raw) String() string {
	return fmt.Sprintf("raws.Raw%s", r.shape)
}
