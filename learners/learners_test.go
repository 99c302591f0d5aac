package learners_test

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/inferkit/learners"
	"github.com/gomlx/inferkit/runtimes"
	"github.com/gomlx/inferkit/runtimes/govm"
	"github.com/gomlx/inferkit/types/raws"
	"github.com/gomlx/inferkit/types/shapes"
)

// recordingRuntime and friends implement the runtimes interfaces recording every
// call, so tests can assert the exact execution sequence.
type recordingRuntime struct {
	resolveErr error
}

func (r *recordingRuntime) Name() string        { return "recording" }
func (r *recordingRuntime) Description() string { return "call-recording fake runtime" }
func (r *recordingRuntime) Finalize()           {}

func (r *recordingRuntime) ResolveDevice(target string) (runtimes.Device, error) {
	if r.resolveErr != nil {
		return runtimes.Device{}, r.resolveErr
	}
	return runtimes.Device{Kind: "cpu"}, nil
}

func (r *recordingRuntime) LoadModule(exported []byte) (runtimes.Module, error) {
	return &recordingModule{runtime: r}, nil
}

type recordingModule struct {
	runtime  *recordingRuntime
	executor *recordingExecutor
}

func (m *recordingModule) Runtime() runtimes.Runtime { return m.runtime }
func (m *recordingModule) Export() ([]byte, error)   { return []byte("recording"), nil }
func (m *recordingModule) Finalize()                 {}

func (m *recordingModule) Instantiate(device runtimes.Device) (runtimes.GraphExecutor, error) {
	m.executor = &recordingExecutor{device: device, numOutputs: 1}
	return m.executor, nil
}

type recordingExecutor struct {
	device     runtimes.Device
	numOutputs int

	calls     []string // "set:<name>", "run", "get:<index>"
	outputFor func(index int, out *raws.Raw)
}

func (e *recordingExecutor) SetInput(name string, value *raws.Raw) error {
	e.calls = append(e.calls, "set:"+name)
	return nil
}

func (e *recordingExecutor) Run() error {
	e.calls = append(e.calls, "run")
	return nil
}

func (e *recordingExecutor) GetOutput(index int, out *raws.Raw) error {
	e.calls = append(e.calls, "get:"+string(rune('0'+index)))
	if e.outputFor != nil {
		e.outputFor(index, out)
	}
	return nil
}

func (e *recordingExecutor) NumOutputs() int         { return e.numOutputs }
func (e *recordingExecutor) Device() runtimes.Device { return e.device }
func (e *recordingExecutor) Finalize()               {}

func newRecordingHandle(t *testing.T, params learners.ModelParams, inputNames []string) (*learners.Handle, *recordingExecutor) {
	t.Helper()
	rt := &recordingRuntime{}
	module := must.M1(rt.LoadModule(nil)).(*recordingModule)
	handle, err := learners.FromRuntimeModule(params, module, "cpu", inputNames)
	require.NoError(t, err)
	return handle, module.executor
}

func TestMakeParams(t *testing.T) {
	params := learners.MakeParams(2, [][]int{{10}})
	require.Equal(t, 2, params.BatchSize)
	require.Equal(t, 1, params.NumOutputs())
	require.Equal(t, dtypes.Float32, params.DType)
	require.True(t, params.OutputShape(0).Equal(shapes.Make(dtypes.Float32, 2, 10)))

	require.Panics(t, func() { learners.MakeParams(0, [][]int{{10}}) })
	require.Panics(t, func() { learners.MakeParams(2, nil) })
	require.Panics(t, func() { learners.MakeParams(2, [][]int{{0}}) })
}

func TestPredictRawSequence(t *testing.T) {
	params := learners.MakeParams(1, [][]int{{2}, {3}})
	handle, exec := newRecordingHandle(t, params, []string{"a", "b", "c"})

	inputs := []*raws.Raw{
		raws.FromFlat([]float32{1}, 1, 1),
		raws.FromFlat([]float32{2}, 1, 1),
		raws.FromFlat([]float32{3}, 1, 1),
	}
	outputs, err := handle.PredictRaw(inputs)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	// Every input bound in list order, then exactly one run, then outputs fetched
	// in OutputSizes order.
	require.Equal(t, []string{"set:a", "set:b", "set:c", "run", "get:0", "get:1"}, exec.calls)

	// Output buffers are allocated with the batch size prefixed to the output size.
	require.True(t, outputs[0].Shape().Equal(shapes.Make(dtypes.Float32, 1, 2)))
	require.True(t, outputs[1].Shape().Equal(shapes.Make(dtypes.Float32, 1, 3)))
}

func TestPredictRawZipTruncation(t *testing.T) {
	params := learners.MakeParams(1, [][]int{{2}})

	// More names than inputs: only the first len(inputs) names are bound.
	handle, exec := newRecordingHandle(t, params, []string{"a", "b", "c"})
	_, err := handle.PredictRaw([]*raws.Raw{raws.FromFlat([]float32{1}, 1, 1)})
	require.NoError(t, err)
	require.Equal(t, []string{"set:a", "run", "get:0"}, exec.calls)

	// More inputs than names: the extra inputs are silently ignored.
	handle, exec = newRecordingHandle(t, params, []string{"a"})
	_, err = handle.PredictRaw([]*raws.Raw{
		raws.FromFlat([]float32{1}, 1, 1),
		raws.FromFlat([]float32{2}, 1, 1),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"set:a", "run", "get:0"}, exec.calls)
}

func TestFromRuntimeModuleDeviceResolution(t *testing.T) {
	rt := &recordingRuntime{resolveErr: errors.Wrap(runtimes.ErrDeviceResolution, "recording")}
	module := &recordingModule{runtime: rt}
	params := learners.MakeParams(1, [][]int{{2}})
	_, err := learners.FromRuntimeModule(params, module, "warp-drive", []string{"a"})
	require.ErrorIs(t, err, runtimes.ErrDeviceResolution)
}

func TestPredictRawWithGovm(t *testing.T) {
	// Example scenario: batch size 2, one output of size (10,), two inputs of which
	// the module consumes both -- predict returns exactly one (2, 10) output.
	rt := must.M1(runtimes.NewWithConfig(govm.RuntimeName)).(*govm.Runtime)
	weights := make([]float32, 4*10)
	for i := range weights {
		weights[i] = float32(i%7) * 0.25
	}
	builder := rt.Builder("two-inputs").Input("x0").Input("x1")
	module, err := builder.
		Dense("x0", weights, 4, 10, nil, govm.ActivationNone).
		Compile()
	require.NoError(t, err)

	params := learners.MakeParams(2, [][]int{{10}})
	handle, err := learners.FromRuntimeModule(params, module, "llvm", []string{"x0", "x1"})
	require.NoError(t, err)
	defer handle.Finalize()

	inputs := []*raws.Raw{
		raws.FromFlat([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4),
		raws.FromFlat([]float32{1, 1, 1, 1, 1, 1, 1, 1}, 2, 4),
	}
	outputs, err := handle.PredictRaw(inputs)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.True(t, outputs[0].Shape().Equal(shapes.Make(dtypes.Float32, 2, 10)))
}

func TestHandleAccessors(t *testing.T) {
	params := learners.MakeParams(1, [][]int{{2}})
	handle, _ := newRecordingHandle(t, params, []string{"a", "b"})
	require.Equal(t, []string{"a", "b"}, handle.InputNames())
	require.Equal(t, "cpu", handle.Target())
	require.Equal(t, params.BatchSize, handle.Params().BatchSize)

	names := handle.InputNames()
	names[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, handle.InputNames(), "InputNames must return a copy")
}

func TestFinalize(t *testing.T) {
	params := learners.MakeParams(1, [][]int{{2}})
	handle, _ := newRecordingHandle(t, params, []string{"a"})
	handle.Finalize()
	require.Panics(t, func() { _ = handle.Module() })
	handle.Finalize() // Second Finalize is a no-op.
}

// TestConcurrentUseRequiresExternalLocking documents the concurrency contract: a
// Handle owns mutable execution state and concurrent Predict calls on the same
// handle are a data race. The supported pattern is an external mutex per handle (or
// one handle per worker); this test exercises that pattern. Concurrent unlocked use
// is undefined and deliberately not asserted here.
func TestConcurrentUseRequiresExternalLocking(t *testing.T) {
	params := learners.MakeParams(1, [][]int{{2}})
	handle, _ := newRecordingHandle(t, params, []string{"a"})

	var mu sync.Mutex
	var wg sync.WaitGroup
	input := []*raws.Raw{raws.FromFlat([]float32{1}, 1, 1)}
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				mu.Lock()
				_, err := handle.PredictRaw(input)
				mu.Unlock()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
