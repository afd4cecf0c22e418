// Package narrate orchestrates narration requests: cache lookup, capture or
// retrieval of a new take, speed adjustment, persistence, and pushing the
// resulting clip and sub-captions to the host timeline.
package narrate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audioutil"
	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/speed"
	"github.com/book-expert/narration-service/internal/timeline"
)

// Defaults for sub-caption emission.
const (
	DefaultMaxSubcaptionLen = 70
	DefaultSubcaptionBuff   = 0.1

	unitySpeed     = 1.0
	adjustedSuffix = "_adjusted"
)

// Options configures a narration service.
type Options struct {
	// GlobalSpeed is the tempo applied to every accepted take. 1.0 leaves
	// takes unchanged. Changing it does not invalidate cached entries:
	// identity, not render parameters, is the reuse key.
	GlobalSpeed float64
	// CreateSubcaptions controls whether captions are pushed to the sink.
	CreateSubcaptions bool
	MaxSubcaptionLen  int
	SubcaptionBuff    float64
}

// Request is one narration line. Slot is the stable position of the line in
// the cache index, passed explicitly per call so concurrent timelines cannot
// cross-talk; a negative slot means "append".
type Request struct {
	Text string
	Slot int
	// Subcaption optionally overrides the displayed caption text.
	Subcaption string
	// SourceKey optionally names a pre-uploaded take for upload-backed
	// generators.
	SourceKey string
}

// Result is the outcome of one narration request.
type Result struct {
	Record   core.CacheRecord
	Tracker  *timeline.Tracker
	CacheHit bool
}

// Service is the narration orchestrator. It is used from a single calling
// thread per invocation and holds no long-lived shared mutable state beyond
// the on-disk index.
type Service struct {
	store     *cache.Store
	generator core.Generator
	adjuster  *speed.Adjuster
	clock     core.Clock
	sink      core.TimelineSink
	opts      Options
	log       *logger.Logger
}

// New creates a narration service. The sink may be nil when the host does not
// consume clips or captions.
func New(
	store *cache.Store,
	generator core.Generator,
	adjuster *speed.Adjuster,
	clock core.Clock,
	sink core.TimelineSink,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.GlobalSpeed <= 0 {
		opts.GlobalSpeed = unitySpeed
	}

	if opts.MaxSubcaptionLen <= 0 {
		opts.MaxSubcaptionLen = DefaultMaxSubcaptionLen
	}

	return &Service{
		store:     store,
		generator: generator,
		adjuster:  adjuster,
		clock:     clock,
		sink:      sink,
		opts:      opts,
		log:       log,
	}
}

// Narrate resolves one narration line to a cached or freshly produced clip,
// anchors a tracker at the clock's current reading, and pushes the clip and
// its sub-captions to the sink.
func (s *Service) Narrate(ctx context.Context, req Request) (Result, error) {
	text := NormalizeText(req.Text)

	identity := core.Identity{
		InputText: text,
		Config:    s.generator.Config(),
	}

	record, hit, err := s.resolve(ctx, identity, req)
	if err != nil {
		return Result{}, err
	}

	tracker, err := timeline.NewTracker(record, s.store.Dir(), s.clock)
	if err != nil {
		return Result{}, fmt.Errorf("failed to track narration clip: %w", err)
	}

	err = s.push(record, tracker, text, req.Subcaption)
	if err != nil {
		return Result{}, err
	}

	return Result{Record: record, Tracker: tracker, CacheHit: hit}, nil
}

// resolve returns the cached record for the identity, or produces, adjusts,
// and persists a new one.
func (s *Service) resolve(ctx context.Context, identity core.Identity, req Request) (core.CacheRecord, bool, error) {
	cached, hit, err := s.store.Lookup(identity, req.Slot)
	if err != nil {
		return core.CacheRecord{}, false, err
	}

	if hit {
		s.log.Info("Cache hit for slot %d: %s", req.Slot, cached.FinalAudio)

		return cached, true, nil
	}

	record, err := s.generator.Generate(ctx, core.GenerateRequest{
		Identity:  identity,
		Basename:  audioutil.AudioBasename(),
		SourceKey: req.SourceKey,
	})
	if err != nil {
		return core.CacheRecord{}, false, fmt.Errorf("failed to generate narration audio: %w", err)
	}

	record.FinalAudio, err = s.finalizeAudio(ctx, record.OriginalAudio)
	if err != nil {
		return core.CacheRecord{}, false, err
	}

	err = s.store.Upsert(record, req.Slot)
	if err != nil {
		return core.CacheRecord{}, false, err
	}

	return record, false, nil
}

// finalizeAudio derives the final artifact from the original: a distinct
// speed-adjusted file when a non-unity global speed is configured, otherwise
// the original itself. The original is always preserved so it can be
// re-adjusted if the speed configuration changes later.
func (s *Service) finalizeAudio(ctx context.Context, originalAudio string) (string, error) {
	if s.opts.GlobalSpeed == unitySpeed {
		return originalAudio, nil
	}

	ext := filepath.Ext(originalAudio)
	adjusted := strings.TrimSuffix(originalAudio, ext) + adjustedSuffix + ext

	err := s.adjuster.Adjust(
		ctx,
		filepath.Join(s.store.Dir(), originalAudio),
		filepath.Join(s.store.Dir(), adjusted),
		s.opts.GlobalSpeed,
	)
	if err != nil {
		return "", err
	}

	return adjusted, nil
}

// push hands the clip and its sub-captions to the host timeline.
func (s *Service) push(record core.CacheRecord, tracker *timeline.Tracker, text, subcaption string) error {
	if s.sink == nil {
		return nil
	}

	audioPath := filepath.Join(s.store.Dir(), record.FinalAudio)

	err := s.sink.AddAudioClip(audioPath, tracker.StartTime)
	if err != nil {
		return fmt.Errorf("failed to add audio clip to timeline: %w", err)
	}

	if !s.opts.CreateSubcaptions {
		return nil
	}

	if subcaption == "" {
		subcaption = text
	}

	chunks := timeline.Partition(subcaption, tracker.Duration, s.opts.MaxSubcaptionLen, s.opts.SubcaptionBuff)

	for _, chunk := range chunks {
		err = s.sink.AddCaption(chunk.Text, chunk.Duration, tracker.StartTime+chunk.Offset)
		if err != nil {
			return fmt.Errorf("failed to add caption to timeline: %w", err)
		}
	}

	return nil
}

// NormalizeText collapses all whitespace runs to single spaces and trims the
// ends. Identities are always built from normalized text.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
