package frameworks_test

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/inferkit/frameworks"
	"github.com/gomlx/inferkit/learners"
	"github.com/gomlx/inferkit/runtimes"
	"github.com/gomlx/inferkit/runtimes/govm"
	"github.com/gomlx/inferkit/types/tensors"
)

// newIdentityHandle builds a handle over a govm module with two inputs whose two
// outputs mirror the respective inputs (2x2 identity dense layers).
func newIdentityHandle(t *testing.T, batchSize int) *learners.Handle {
	t.Helper()
	rt := must.M1(runtimes.NewWithConfig(govm.RuntimeName)).(*govm.Runtime)
	identity := []float32{1, 0, 0, 1}
	module, err := rt.Builder("mirror").
		Input("x0").Input("x1").
		Dense("x0", identity, 2, 2, nil, govm.ActivationNone).
		Dense("x1", identity, 2, 2, nil, govm.ActivationNone).
		Compile()
	require.NoError(t, err)
	params := learners.MakeParams(batchSize, [][]int{{2}, {2}})
	handle, err := learners.FromRuntimeModule(params, module, "cpu", []string{"x0", "x1"})
	require.NoError(t, err)
	return handle
}

func TestDispatchTable(t *testing.T) {
	handle := newIdentityHandle(t, 1)

	adapter, err := frameworks.New(frameworks.FrameworkTensors, handle)
	require.NoError(t, err)
	require.Equal(t, frameworks.FrameworkTensors, adapter.Framework())
	require.IsType(t, &frameworks.TensorsAdapter{}, adapter)
	require.Same(t, handle, adapter.Handle())

	adapter, err = frameworks.New(frameworks.FrameworkDense, handle)
	require.NoError(t, err)
	require.IsType(t, &frameworks.DenseAdapter{}, adapter)

	_, err = frameworks.New(frameworks.Framework(42), handle)
	require.ErrorIs(t, err, frameworks.ErrUnsupportedFramework)
}

func TestNormalizeDevice(t *testing.T) {
	// An integer device index normalizes to the generic CPU identity.
	require.Equal(t, tensors.CPU, frameworks.NormalizeDevice(tensors.DeviceOrdinal(0)))
	require.Equal(t, tensors.CPU, frameworks.NormalizeDevice(tensors.DeviceOrdinal(3)))

	// Named device identities pass through unchanged.
	cuda := tensors.DeviceOf("cuda")
	require.Equal(t, cuda, frameworks.NormalizeDevice(cuda))
	require.Equal(t, tensors.CPU, frameworks.NormalizeDevice(tensors.CPU))
}

func TestTensorsAdapterPredict(t *testing.T) {
	handle := newIdentityHandle(t, 1)
	adapter := must.M1(frameworks.New(frameworks.FrameworkTensors, handle)).(*frameworks.TensorsAdapter)

	in0 := tensors.FromFlatDataAndDimensions([]float32{1.5, -2.5}, 1, 2).SetRequiresGrad(true)
	in1 := tensors.FromFlatDataAndDimensions([]float32{3, 4}, 1, 2)
	outputs, err := adapter.Predict(in0, in1)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	// Positional order preserved: output i mirrors input i.
	require.Equal(t, []float32{1.5, -2.5}, tensors.CopyFlatData[float32](outputs[0]))
	require.Equal(t, []float32{3, 4}, tensors.CopyFlatData[float32](outputs[1]))

	// Inputs were on CPU, outputs come back bound to CPU, untracked.
	require.Equal(t, tensors.CPU, outputs[0].Device())
	require.False(t, outputs[0].RequiresGrad())
	assert.True(t, in0.RequiresGrad(), "Predict must not mutate its input tensors")
}

func TestTensorsAdapterDeviceRebinding(t *testing.T) {
	handle := newIdentityHandle(t, 1)
	adapter := must.M1(frameworks.New(frameworks.FrameworkTensors, handle)).(*frameworks.TensorsAdapter)

	// First input on a bare ordinal device: outputs rebind to the normalized "cpu".
	in0 := must.M1(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2).ToDevice(tensors.DeviceOrdinal(0)))
	in1 := tensors.FromFlatDataAndDimensions([]float32{3, 4}, 1, 2)
	outputs, err := adapter.Predict(in0, in1)
	require.NoError(t, err)
	require.Equal(t, tensors.CPU, outputs[0].Device())

	// First input on a named device: outputs rebind to that device.
	in0 = must.M1(in0.ToDevice(tensors.DeviceOf("cuda")))
	outputs, err = adapter.Predict(in0, in1)
	require.NoError(t, err)
	require.Equal(t, tensors.DeviceOf("cuda"), outputs[0].Device())
}

func TestTensorsAdapterNoInputs(t *testing.T) {
	handle := newIdentityHandle(t, 1)
	adapter := must.M1(frameworks.New(frameworks.FrameworkTensors, handle)).(*frameworks.TensorsAdapter)
	_, err := adapter.Predict()
	require.Error(t, err)
}

func TestDenseAdapterPredict(t *testing.T) {
	handle := newIdentityHandle(t, 2)
	adapter := must.M1(frameworks.New(frameworks.FrameworkDense, handle)).(*frameworks.DenseAdapter)

	in0 := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 2, 3, 4}))
	in1 := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{5, 6, 7, 8}))
	outputs, err := adapter.Predict(in0, in1)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	require.Equal(t, []int{2, 2}, []int(outputs[0].Shape()))
	require.Equal(t, []float32{1, 2, 3, 4}, outputs[0].Data().([]float32))
	require.Equal(t, []float32{5, 6, 7, 8}, outputs[1].Data().([]float32))
}
