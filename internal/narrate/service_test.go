// Package narrate_test tests the narration orchestrator end to end against an
// on-disk cache and a fake timeline sink.
package narrate_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/narrate"
	"github.com/book-expert/narration-service/internal/speed"
	"github.com/book-expert/narration-service/internal/wavio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now float64
}

func (c *fakeClock) Now() float64 {
	return c.now
}

// toneGenerator writes a real one-second WAV artifact per call and counts how
// often it was asked to produce one.
type toneGenerator struct {
	mu       sync.Mutex
	cacheDir string
	calls    int
	err      error
}

func (g *toneGenerator) Config() core.GenerationConfig {
	return core.GenerationConfig{
		Source:   "capture",
		Format:   16,
		Channels: 1,
		Rate:     8000,
		Chunk:    1024,
	}
}

func (g *toneGenerator) Generate(_ context.Context, req core.GenerateRequest) (core.CacheRecord, error) {
	g.mu.Lock()
	g.calls++
	err := g.err
	g.mu.Unlock()

	if err != nil {
		return core.CacheRecord{}, err
	}

	pcm := make([]byte, 8000*2)

	writeErr := wavio.Write(filepath.Join(g.cacheDir, req.Basename), 8000, 1, pcm)
	if writeErr != nil {
		return core.CacheRecord{}, writeErr
	}

	return core.CacheRecord{
		InputData:     req.Identity,
		OriginalAudio: req.Basename,
	}, nil
}

func (g *toneGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.calls
}

type clipEvent struct {
	path  string
	start float64
}

type captionEvent struct {
	text     string
	duration float64
	start    float64
}

// recordingSink collects every clip and caption pushed to the timeline.
type recordingSink struct {
	clips    []clipEvent
	captions []captionEvent
}

func (s *recordingSink) AddAudioClip(path string, startOffset float64) error {
	s.clips = append(s.clips, clipEvent{path: path, start: startOffset})

	return nil
}

func (s *recordingSink) AddCaption(text string, duration, startOffset float64) error {
	s.captions = append(s.captions, captionEvent{text: text, duration: duration, start: startOffset})

	return nil
}

type fixture struct {
	service   *narrate.Service
	store     *cache.Store
	generator *toneGenerator
	clock     *fakeClock
	sink      *recordingSink
}

func newFixture(t *testing.T, opts narrate.Options) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "narrate-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	store, err := cache.New(t.TempDir(), log)
	require.NoError(t, err)

	generator := &toneGenerator{cacheDir: store.Dir()}
	clock := &fakeClock{}
	sink := &recordingSink{}

	service := narrate.New(store, generator, speed.New(log), clock, sink, opts, log)

	return &fixture{
		service:   service,
		store:     store,
		generator: generator,
		clock:     clock,
		sink:      sink,
	}
}

func TestNarrate_CacheMissGeneratesAndPersists(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, narrate.Options{})
	fix.clock.now = 3.0

	result, err := fix.service.Narrate(context.Background(), narrate.Request{Text: "hello world", Slot: -1})
	require.NoError(t, err)

	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, fix.generator.callCount())
	assert.Equal(t, result.Record.OriginalAudio, result.Record.FinalAudio)
	assert.InDelta(t, 1.0, result.Tracker.Duration, 1e-6)
	assert.InDelta(t, 3.0, result.Tracker.StartTime, 1e-9)

	// The record is now in the index under the normalized identity.
	cached, hit, err := fix.store.Lookup(result.Record.InputData, -1)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, result.Record, cached)

	require.Len(t, fix.sink.clips, 1)
	assert.Equal(t, filepath.Join(fix.store.Dir(), result.Record.FinalAudio), fix.sink.clips[0].path)
	assert.InDelta(t, 3.0, fix.sink.clips[0].start, 1e-9)
}

func TestNarrate_RepeatedCallIsPureCacheHit(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, narrate.Options{})

	first, err := fix.service.Narrate(context.Background(), narrate.Request{Text: "hello world", Slot: -1})
	require.NoError(t, err)

	// Same line with messy whitespace normalizes to the same identity.
	second, err := fix.service.Narrate(context.Background(), narrate.Request{Text: "  hello \n world ", Slot: 0})
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Record, second.Record)
	assert.Equal(t, 1, fix.generator.callCount())
}

func TestNarrate_DifferentTextAtSlotReplacesTake(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, narrate.Options{})

	first, err := fix.service.Narrate(context.Background(), narrate.Request{Text: "old line", Slot: -1})
	require.NoError(t, err)

	staleArtifact := filepath.Join(fix.store.Dir(), first.Record.OriginalAudio)

	_, err = fix.service.Narrate(context.Background(), narrate.Request{Text: "new line", Slot: 0})
	require.NoError(t, err)

	assert.Equal(t, 2, fix.generator.callCount())

	_, statErr := os.Stat(staleArtifact)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNarrate_PushesSubcaptionsWhenEnabled(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, narrate.Options{
		CreateSubcaptions: true,
		MaxSubcaptionLen:  narrate.DefaultMaxSubcaptionLen,
		SubcaptionBuff:    narrate.DefaultSubcaptionBuff,
	})
	fix.clock.now = 2.0

	_, err := fix.service.Narrate(context.Background(), narrate.Request{Text: "hello world", Slot: -1})
	require.NoError(t, err)

	require.Len(t, fix.sink.captions, 1)
	assert.Equal(t, "hello world", fix.sink.captions[0].text)
	assert.InDelta(t, 1.0-narrate.DefaultSubcaptionBuff, fix.sink.captions[0].duration, 1e-6)
	assert.InDelta(t, 2.0, fix.sink.captions[0].start, 1e-9)
}

func TestNarrate_SubcaptionOverrideReplacesDisplayText(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, narrate.Options{CreateSubcaptions: true})

	_, err := fix.service.Narrate(context.Background(), narrate.Request{
		Text:       "hello world",
		Slot:       -1,
		Subcaption: "Hello, World!",
	})
	require.NoError(t, err)

	require.Len(t, fix.sink.captions, 1)
	assert.Equal(t, "Hello, World!", fix.sink.captions[0].text)
}

func TestNarrate_GeneratorFailurePersistsNothing(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, narrate.Options{})
	fix.generator.err = narrate.ErrRecordingRejected

	_, err := fix.service.Narrate(context.Background(), narrate.Request{Text: "hello world", Slot: -1})
	require.ErrorIs(t, err, narrate.ErrRecordingRejected)

	records, err := fix.store.Load()
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.Empty(t, fix.sink.clips)
}

func TestNarrate_NonUnitySpeedProducesAdjustedArtifact(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "narrate-test.log")
	require.NoError(t, err)

	store, err := cache.New(t.TempDir(), log)
	require.NoError(t, err)

	// A stand-in stretch tool that copies input to output.
	script := filepath.Join(t.TempDir(), "fake-sox")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncp \"$1\" \"$2\"\n"), 0o750))

	generator := &toneGenerator{cacheDir: store.Dir()}

	service := narrate.New(
		store,
		generator,
		speed.NewWithBinary(script, log),
		&fakeClock{},
		nil,
		narrate.Options{GlobalSpeed: 1.25},
		log,
	)

	result, err := service.Narrate(context.Background(), narrate.Request{Text: "hello world", Slot: -1})
	require.NoError(t, err)

	assert.NotEqual(t, result.Record.OriginalAudio, result.Record.FinalAudio)
	assert.Contains(t, result.Record.FinalAudio, "_adjusted")

	// Both the original and the adjusted artifact exist, so the original can
	// be re-adjusted later under a different speed.
	_, statErr := os.Stat(filepath.Join(store.Dir(), result.Record.OriginalAudio))
	require.NoError(t, statErr)

	_, statErr = os.Stat(filepath.Join(store.Dir(), result.Record.FinalAudio))
	require.NoError(t, statErr)
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello world", narrate.NormalizeText("  hello \t\n world  "))
	assert.Equal(t, "", narrate.NormalizeText("   "))
	assert.Equal(t, "one two three", narrate.NormalizeText("one two three"))
}
