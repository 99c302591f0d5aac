package runtimes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testRuntime struct {
	Runtime
	config string
}

func (r *testRuntime) Name() string { return "rtest" }

func init() {
	Register("rtest", func(config string) (Runtime, error) {
		return &testRuntime{config: config}, nil
	})
}

func TestAvailable(t *testing.T) {
	require.True(t, Available("rtest"))
	require.False(t, Available("no-such-runtime"))
	require.Contains(t, List(), "rtest")
}

func TestNewWithConfig(t *testing.T) {
	rt, err := NewWithConfig("rtest")
	require.NoError(t, err)
	require.Equal(t, "rtest", rt.Name())
	require.Equal(t, "", rt.(*testRuntime).config)

	rt, err = NewWithConfig("rtest:some-config")
	require.NoError(t, err)
	require.Equal(t, "some-config", rt.(*testRuntime).config)

	_, err = NewWithConfig("no-such-runtime")
	require.Error(t, err)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(RuntimeEnvVar, "rtest:from-env")
	rt, err := New()
	require.NoError(t, err)
	require.Equal(t, "from-env", rt.(*testRuntime).config)
}
