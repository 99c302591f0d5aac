package runtimes

import (
	"os"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Constructor takes a config string (optionally empty) and returns a Runtime.
type Constructor func(config string) (Runtime, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a runtime with the given name and a constructor that takes a runtime
// specific configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Available reports whether a runtime with the given name was registered. This is the
// explicit capability probe: a runtime whose support was not compiled in is simply not
// registered, and callers decide what to do about it.
func Available(name string) bool {
	_, found := registeredConstructors[name]
	return found
}

// List returns the names of all registered runtimes, sorted.
func List() []string {
	names := maps.Keys(registeredConstructors)
	sort.Strings(names)
	return names
}

// DefaultConfig is the runtime configuration to use if neither the INFERKIT_RUNTIME
// environment variable nor an explicit configuration is given.
var DefaultConfig string

// RuntimeEnvVar is the environment variable with the default runtime configuration.
//
// The format of the configuration is "<runtime_name>:<runtime_configuration>", where
// "<runtime_name>" is the name of a registered runtime (e.g. "govm") and the rest is
// runtime specific.
const RuntimeEnvVar = "INFERKIT_RUNTIME"

// New returns a new Runtime built from the default configuration:
//
//  1. The environment variable INFERKIT_RUNTIME, if set.
//  2. The variable DefaultConfig, if set.
//  3. The first registered runtime with an empty configuration.
func New() (Runtime, error) {
	if config, found := os.LookupEnv(RuntimeEnvVar); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig builds a Runtime from a configuration string formatted as
// "<runtime_name>:<runtime_configuration>". An empty name selects the first
// registered runtime.
func NewWithConfig(config string) (Runtime, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf("no registered runtimes for inferkit -- maybe import the default "+
			`one with import _ %q?`, "github.com/gomlx/inferkit/runtimes/govm")
	}
	name := firstRegistered
	runtimeConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		runtimeConfig = config[idx+1:]
	} else if config != "" {
		name = config
		runtimeConfig = ""
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("can't find runtime %q for configuration %q given -- registered runtimes: %v",
			name, config, List())
	}
	return constructor(runtimeConfig)
}

// MustNew is like New but panics on error.
func MustNew() Runtime {
	rt, err := New()
	if err != nil {
		exceptions.Panicf("runtimes.MustNew: %+v", err)
	}
	return rt
}
