// Package core defines the data contracts and interfaces shared by the
// narration service components.
package core

import "context"

// GenerationConfig describes the parameters a generator used to produce an
// audio artifact. It is part of the cache identity: two takes produced with
// different device parameters are different artifacts.
type GenerationConfig struct {
	Source   string `json:"source,omitempty"`
	Format   int    `json:"format,omitempty"`
	Channels int    `json:"channels,omitempty"`
	Rate     int    `json:"rate,omitempty"`
	Chunk    int    `json:"chunk,omitempty"`
}

// Identity is the cache key: the narrated text plus the generation
// parameters. The post-processing tempo is deliberately excluded, so changing
// the global speed does not invalidate cached takes.
type Identity struct {
	InputText string           `json:"input_text"`
	Config    GenerationConfig `json:"config"`
}

// Equal reports whether two identities match field for field.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

// CacheRecord maps an identity to its persisted audio artifacts. Paths are
// relative to the cache directory. FinalAudio equals OriginalAudio when no
// speed adjustment was applied.
type CacheRecord struct {
	InputData     Identity `json:"input_data"`
	OriginalAudio string   `json:"original_audio"`
	FinalAudio    string   `json:"final_audio"`
}

// GenerateRequest carries everything a generator needs to produce one take.
type GenerateRequest struct {
	// Identity is the cache key the resulting record will be stored under.
	Identity Identity
	// Basename is the file name (relative to the cache directory) the
	// generator must write the original artifact to.
	Basename string
	// SourceKey optionally names a pre-uploaded take in the object store,
	// used by upload-backed generators.
	SourceKey string
}

// Generator produces the original audio artifact for an identity. Concrete
// variants are capture-backed, file-backed, and remote-upload-backed; the
// orchestrator depends only on this interface.
type Generator interface {
	Config() GenerationConfig
	Generate(ctx context.Context, req GenerateRequest) (CacheRecord, error)
}

// Clock is the host timeline contract: a monotonically increasing reading in
// seconds.
type Clock interface {
	Now() float64
}

// TimelineSink receives the results the narration engine pushes back to the
// host: the clip itself and its sub-captions. Offsets are in host timeline
// seconds.
type TimelineSink interface {
	AddAudioClip(path string, startOffset float64) error
	AddCaption(text string, duration, startOffset float64) error
}

// Device describes one capturable input device.
type Device struct {
	Index            int
	Name             string
	MaxInputChannels int
}

// ObjectStore defines the interface for interacting with a key-value blob
// store holding uploaded takes and rendered artifacts.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
