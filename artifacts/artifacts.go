// Package artifacts saves and loads compiled-model artifacts.
//
// An artifact is a directory holding exactly two files with fixed, well-known names:
//
//   - metadata.json: the structural metadata record -- network parameters (batch
//     size, output sizes, dtype), ordered input names, target device string, runtime
//     name, a model id, and arbitrary caller-supplied extras.
//   - engine.bin: the opaque exported compiled module.
//
// The two files are only meaningful together: Load refuses a directory missing
// either one. Save performs no atomic transaction or rollback -- a partially written
// directory is unusable, and callers treat the directory as a single unit.
//
// Loading reconstructs a fully operational learners.Handle without re-compilation:
// the metadata record carries enough to rebuild the model parameters, re-import the
// module into its runtime and re-resolve the target device.
package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/inferkit/learners"
	"github.com/gomlx/inferkit/runtimes"
)

const (
	// MetadataFileName inside an artifact directory.
	MetadataFileName = "metadata.json"

	// EngineFileName is the fixed name of the exported compiled module inside an
	// artifact directory.
	EngineFileName = "engine.bin"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

var (
	// ErrArtifactNotFound is returned by Load when the metadata or the engine file
	// is missing from the artifact directory.
	ErrArtifactNotFound = errors.New("artifact file not found")

	// ErrMetadataCorrupt is returned by Load when the metadata record cannot be
	// decoded or required fields are absent or malformed.
	ErrMetadataCorrupt = errors.New("artifact metadata corrupt")
)

// NetworkParameters is the serialized form of learners.ModelParams.
type NetworkParameters struct {
	BatchSize   int     `json:"batch_size"`
	OutputSizes [][]int `json:"output_sizes"`
	DType       string  `json:"dtype"`
}

// Metadata is the structural metadata record written next to the exported engine.
type Metadata struct {
	ModelID           string            `json:"model_id"`
	Runtime           string            `json:"runtime"`
	Target            string            `json:"target"`
	InputNames        []string          `json:"input_names"`
	NetworkParameters NetworkParameters `json:"network_parameters"`
	Extra             map[string]any    `json:"extra,omitempty"`
}

// Save writes the handle's metadata record and exported compiled module into the
// directory path, creating it if needed. Extra caller-supplied key/values are stored
// under "extra" in the metadata record.
//
// Both files target the same directory; there is no rollback if the second write
// fails.
func Save(handle *learners.Handle, path string, extra map[string]any) error {
	if err := os.MkdirAll(path, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create artifact directory %q", path)
	}
	params := handle.Params()
	meta := Metadata{
		ModelID:    uuid.NewString(),
		Runtime:    handle.Module().Runtime().Name(),
		Target:     handle.Target(),
		InputNames: handle.InputNames(),
		NetworkParameters: NetworkParameters{
			BatchSize:   params.BatchSize,
			OutputSizes: params.OutputSizes,
			DType:       params.DType.String(),
		},
		Extra: extra,
	}
	encoded, err := json.MarshalIndent(&meta, "", "\t")
	if err != nil {
		return errors.Wrapf(err, "failed to encode artifact metadata for %q", path)
	}
	metaPath := filepath.Join(path, MetadataFileName)
	if err = os.WriteFile(metaPath, encoded, 0660); err != nil {
		return errors.Wrapf(err, "failed to write artifact metadata file %q", metaPath)
	}
	exported, err := handle.Module().Export()
	if err != nil {
		return errors.Wrapf(err, "failed to export compiled module for %q", path)
	}
	enginePath := filepath.Join(path, EngineFileName)
	if err = os.WriteFile(enginePath, exported, 0660); err != nil {
		return errors.Wrapf(err, "failed to write engine file %q", enginePath)
	}
	klog.V(1).Infof("artifacts: saved %s to %s (engine %s)", handle, path, humanize.Bytes(uint64(len(exported))))
	return nil
}

// LoadMetadata reads and validates the metadata record of an artifact directory,
// without touching the engine file.
func LoadMetadata(path string) (*Metadata, error) {
	metaPath := filepath.Join(path, MetadataFileName)
	encoded, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrArtifactNotFound, "missing metadata file %q", metaPath)
		}
		return nil, errors.Wrapf(err, "failed to read artifact metadata file %q", metaPath)
	}
	meta := &Metadata{}
	if err = json.Unmarshal(encoded, meta); err != nil {
		return nil, errors.Wrapf(ErrMetadataCorrupt, "failed to decode %q: %v", metaPath, err)
	}
	if meta.NetworkParameters.BatchSize <= 0 {
		return nil, errors.Wrapf(ErrMetadataCorrupt, "%q: batch_size must be positive, got %d",
			metaPath, meta.NetworkParameters.BatchSize)
	}
	if len(meta.NetworkParameters.OutputSizes) == 0 {
		return nil, errors.Wrapf(ErrMetadataCorrupt, "%q: output_sizes is empty", metaPath)
	}
	for i, size := range meta.NetworkParameters.OutputSizes {
		for _, dim := range size {
			if dim <= 0 {
				return nil, errors.Wrapf(ErrMetadataCorrupt, "%q: output_sizes[%d]=%v has a non-positive dimension",
					metaPath, i, size)
			}
		}
	}
	if meta.Runtime == "" {
		return nil, errors.Wrapf(ErrMetadataCorrupt, "%q: runtime name is missing", metaPath)
	}
	if len(meta.InputNames) == 0 {
		return nil, errors.Wrapf(ErrMetadataCorrupt, "%q: input_names is missing", metaPath)
	}
	if _, err = dtypeFromString(meta.NetworkParameters.DType); err != nil {
		return nil, errors.Wrapf(ErrMetadataCorrupt, "%q: %v", metaPath, err)
	}
	return meta, nil
}

// Load reads an artifact directory and reconstructs a fully operational handle: the
// model parameters are rebuilt from the metadata record, the engine file is
// re-imported into the runtime named by the metadata, and the handle is constructed
// with learners.FromRuntimeModule.
//
// It fails with ErrArtifactNotFound if either file is missing, and with
// ErrMetadataCorrupt if required metadata fields are absent or malformed.
func Load(path string) (*learners.Handle, error) {
	meta, err := LoadMetadata(path)
	if err != nil {
		return nil, err
	}
	if !runtimes.Available(meta.Runtime) {
		return nil, errors.Errorf("artifact %q requires runtime %q, which is not registered (registered: %v)",
			path, meta.Runtime, runtimes.List())
	}
	rt, err := runtimes.NewWithConfig(meta.Runtime)
	if err != nil {
		return nil, err
	}
	enginePath := filepath.Join(path, EngineFileName)
	exported, err := os.ReadFile(enginePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrArtifactNotFound, "missing engine file %q", enginePath)
		}
		return nil, errors.Wrapf(err, "failed to read engine file %q", enginePath)
	}
	module, err := rt.LoadModule(exported)
	if err != nil {
		return nil, err
	}
	dtype, _ := dtypeFromString(meta.NetworkParameters.DType)
	params := learners.MakeParamsWithDType(meta.NetworkParameters.BatchSize, meta.NetworkParameters.OutputSizes, dtype)
	return learners.FromRuntimeModule(params, module, meta.Target, meta.InputNames)
}

// knownDTypes are the dtypes an artifact can declare, matched by their String form.
var knownDTypes = []dtypes.DType{
	dtypes.Float32, dtypes.Float64, dtypes.Float16,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Bool,
}

func dtypeFromString(name string) (dtypes.DType, error) {
	if name == "" {
		// The dtype field is optional and defaults to Float32.
		return dtypes.Float32, nil
	}
	for _, dtype := range knownDTypes {
		if dtype.String() == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}
