// Package govm implements a pure-Go inferkit runtime.
//
// It executes compiled modules made of dense layers (matmul + bias + activation) on
// the host CPU, with no external dependencies beyond Go. It serves as the reference
// runtime: it is always available, and its exported modules are deterministic, so a
// save/load round-trip reproduces outputs bit for bit.
//
// Import it with import _ "github.com/gomlx/inferkit/runtimes/govm" to register it
// during initialization.
package govm

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/inferkit/runtimes"
)

// RuntimeName of the govm runtime, as registered.
const RuntimeName = "govm"

// Runtime implements runtimes.Runtime executing modules on the host CPU.
type Runtime struct {
	finalized bool
}

// New returns a new govm Runtime. The config string is unused.
func New(config string) (runtimes.Runtime, error) {
	_ = config
	return &Runtime{}, nil
}

func init() {
	runtimes.Register(RuntimeName, New)
}

// AssertValid panics if the runtime is nil or was finalized.
func (r *Runtime) AssertValid() {
	if r == nil {
		exceptions.Panicf("%q runtime is nil", RuntimeName)
	}
	if r.finalized {
		exceptions.Panicf("%q runtime was already finalized", RuntimeName)
	}
}

// Name returns the short name of the runtime.
func (r *Runtime) Name() string { return RuntimeName }

// Description is a longer description of the runtime that can be used to pretty-print.
func (r *Runtime) Description() string {
	return "govm - pure-Go dense-layer graph executor (CPU only)"
}

// ResolveDevice resolves a target string to a device. The govm runtime only executes
// on the host CPU: the targets "cpu", "llvm" (the usual CPU target of tensor
// compilers) and "" all resolve to CPU device 0. Anything else fails with
// runtimes.ErrDeviceResolution.
func (r *Runtime) ResolveDevice(target string) (runtimes.Device, error) {
	r.AssertValid()
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "cpu", "llvm":
		return runtimes.Device{Kind: "cpu", Num: 0}, nil
	}
	return runtimes.Device{}, errors.Wrapf(runtimes.ErrDeviceResolution,
		"runtime %q: target %q", RuntimeName, target)
}

// LoadModule imports a module previously serialized with Module.Export.
func (r *Runtime) LoadModule(exported []byte) (runtimes.Module, error) {
	r.AssertValid()
	prog, err := decodeProgram(exported)
	if err != nil {
		return nil, err
	}
	return &Module{runtime: r, prog: prog}, nil
}

// Finalize releases the runtime. Modules loaded from it become invalid.
func (r *Runtime) Finalize() {
	if r == nil {
		return
	}
	r.finalized = true
}
