package narrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audioutil"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/record"
	"github.com/book-expert/narration-service/internal/session"
)

// Generator source identifiers, persisted inside cache identities.
const (
	sourceCapture = "capture"
	sourceFile    = "file"
	sourceRemote  = "remote"
)

var (
	// ErrRecordingRejected indicates the driver ended the session without an
	// accepted take.
	ErrRecordingRejected = errors.New("recording rejected by driver")
	// ErrTakeNotFound indicates a file-backed generator could not locate a
	// pre-recorded take.
	ErrTakeNotFound = errors.New("pre-recorded take not found")
	// ErrMissingSourceKey indicates an upload-backed request without a take key.
	ErrMissingSourceKey = errors.New("missing source key for remote take")
)

// Driver is the contract a front end implements to conduct one capture
// session: prompt the narrator with the line, run the session's
// record/review/re-take loop, and accept the final take to acceptPath.
type Driver interface {
	Record(sess *session.Session, text, acceptPath string) error
}

// CaptureGenerator produces takes by recording from an input device through
// an interactive driver.
type CaptureGenerator struct {
	backend  record.Backend
	cfg      record.DeviceConfig
	driver   Driver
	cacheDir string
	log      *logger.Logger
}

// NewCaptureGenerator creates a capture-backed generator writing takes into
// cacheDir.
func NewCaptureGenerator(
	backend record.Backend,
	cfg record.DeviceConfig,
	driver Driver,
	cacheDir string,
	log *logger.Logger,
) *CaptureGenerator {
	return &CaptureGenerator{
		backend:  backend,
		cfg:      cfg,
		driver:   driver,
		cacheDir: cacheDir,
		log:      log,
	}
}

// Config returns the device parameters that form part of the cache identity.
func (g *CaptureGenerator) Config() core.GenerationConfig {
	return g.cfg.GenerationConfig(sourceCapture)
}

// Generate runs one recording session via the driver and returns the record
// for the accepted take.
func (g *CaptureGenerator) Generate(_ context.Context, req core.GenerateRequest) (core.CacheRecord, error) {
	recorder, err := record.New(g.backend, g.cfg, g.log)
	if err != nil {
		return core.CacheRecord{}, err
	}

	sess := session.New(recorder, g.log)
	acceptPath := filepath.Join(g.cacheDir, req.Basename)

	err = g.driver.Record(sess, req.Identity.InputText, acceptPath)
	if err != nil {
		return core.CacheRecord{}, fmt.Errorf("%w: %w", ErrRecordingRejected, err)
	}

	_, statErr := os.Stat(acceptPath)
	if statErr != nil {
		return core.CacheRecord{}, fmt.Errorf("%w: driver did not produce %s", ErrRecordingRejected, acceptPath)
	}

	return core.CacheRecord{
		InputData:     req.Identity,
		OriginalAudio: req.Basename,
	}, nil
}

// FileGenerator serves pre-recorded takes from a directory, matched by the
// sanitized narration text.
type FileGenerator struct {
	takesDir string
	cacheDir string
	cfg      core.GenerationConfig
	log      *logger.Logger
}

// NewFileGenerator creates a generator that copies takes from takesDir into
// the cache directory.
func NewFileGenerator(takesDir, cacheDir string, log *logger.Logger) *FileGenerator {
	return &FileGenerator{
		takesDir: takesDir,
		cacheDir: cacheDir,
		cfg:      core.GenerationConfig{Source: sourceFile},
		log:      log,
	}
}

// Config returns the identity component for file-backed takes.
func (g *FileGenerator) Config() core.GenerationConfig {
	return g.cfg
}

// Generate locates the take named after the narration text and installs it in
// the cache directory under the requested basename.
func (g *FileGenerator) Generate(_ context.Context, req core.GenerateRequest) (core.CacheRecord, error) {
	takePath := filepath.Join(g.takesDir, audioutil.SanitizeFilename(req.Identity.InputText)+audioutil.ExtWAV)

	data, err := os.ReadFile(takePath)
	if err != nil {
		return core.CacheRecord{}, fmt.Errorf("%w: %s: %w", ErrTakeNotFound, takePath, err)
	}

	err = writeArtifact(filepath.Join(g.cacheDir, req.Basename), data)
	if err != nil {
		return core.CacheRecord{}, err
	}

	g.log.Info("Installed pre-recorded take %s as %s", takePath, req.Basename)

	return core.CacheRecord{
		InputData:     req.Identity,
		OriginalAudio: req.Basename,
	}, nil
}

// RemoteGenerator pulls takes a narrator uploaded to the object store, for
// browser- or client-driven capture.
type RemoteGenerator struct {
	store    core.ObjectStore
	cacheDir string
	cfg      core.GenerationConfig
	log      *logger.Logger
}

// NewRemoteGenerator creates a generator downloading takes from the object
// store into cacheDir.
func NewRemoteGenerator(store core.ObjectStore, cacheDir string, log *logger.Logger) *RemoteGenerator {
	return &RemoteGenerator{
		store:    store,
		cacheDir: cacheDir,
		cfg:      core.GenerationConfig{Source: sourceRemote},
		log:      log,
	}
}

// Config returns the identity component for remote takes.
func (g *RemoteGenerator) Config() core.GenerationConfig {
	return g.cfg
}

// Generate downloads the uploaded take named by the request's source key and
// installs it in the cache directory under the requested basename.
func (g *RemoteGenerator) Generate(ctx context.Context, req core.GenerateRequest) (core.CacheRecord, error) {
	if req.SourceKey == "" {
		return core.CacheRecord{}, ErrMissingSourceKey
	}

	data, err := g.store.Download(ctx, req.SourceKey)
	if err != nil {
		return core.CacheRecord{}, fmt.Errorf("failed to download take '%s': %w", req.SourceKey, err)
	}

	err = writeArtifact(filepath.Join(g.cacheDir, req.Basename), data)
	if err != nil {
		return core.CacheRecord{}, err
	}

	g.log.Info("Downloaded remote take '%s' as %s", req.SourceKey, req.Basename)

	return core.CacheRecord{
		InputData:     req.Identity,
		OriginalAudio: req.Basename,
	}, nil
}

const artifactFilePermissions = 0o640

func writeArtifact(path string, data []byte) error {
	err := os.WriteFile(path, data, artifactFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio artifact %s: %w", path, err)
	}

	return nil
}
