// Package worker provides a NATS worker that processes narration jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/narrate"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

var (
	// ErrTextEmpty indicates a narration job without text.
	ErrTextEmpty = errors.New("narration text cannot be empty")
	// ErrTakeKeyEmpty indicates a narration job without an uploaded take.
	ErrTakeKeyEmpty = errors.New("take key cannot be empty")
)

// NarrationJobEvent is one narration line to resolve: the text, its stable
// slot in the cache index, and the object-store key of the narrator's
// uploaded take.
type NarrationJobEvent struct {
	WorkflowID string `json:"workflow_id"`
	Text       string `json:"text"`
	Slot       int    `json:"slot"`
	TakeKey    string `json:"take_key"`
}

// NarrationCompletedEvent reports the resolved clip back to the requester.
type NarrationCompletedEvent struct {
	WorkflowID string  `json:"workflow_id"`
	AudioKey   string  `json:"audio_key"`
	Duration   float64 `json:"duration"`
	CacheHit   bool    `json:"cache_hit"`
}

// NatsWorker listens for narration jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	service        *narrate.Service
	cacheDir       string
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS narration worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	service *narrate.Service,
	cacheDir string,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		service:        service,
		cacheDir:       cacheDir,
		log:            log,
	}
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	job, err := parseAndValidateJob(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate narration job: %v", err)

		return
	}

	reply, processErr := w.processNarrationJob(ctx, job)
	if processErr != nil {
		w.log.Error("Failed to process narration job %s: %v", job.WorkflowID, processErr)

		return
	}

	err = w.publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", job.WorkflowID, err)
	}
}

// processNarrationJob resolves the job through the narration service and
// uploads the final artifact for the requester to fetch.
func (w *NatsWorker) processNarrationJob(ctx context.Context, job *NarrationJobEvent) (*NarrationCompletedEvent, error) {
	result, err := w.service.Narrate(ctx, narrate.Request{
		Text:      job.Text,
		Slot:      job.Slot,
		SourceKey: job.TakeKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to narrate workflow %s: %w", job.WorkflowID, err)
	}

	audioData, err := os.ReadFile(filepath.Join(w.cacheDir, result.Record.FinalAudio))
	if err != nil {
		return nil, fmt.Errorf("failed to read final artifact: %w", err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	// A cache miss consumed the uploaded take; remove it so the bucket only
	// holds takes still awaiting processing plus the rendered artifacts.
	if !result.CacheHit {
		deleteErr := w.store.Delete(ctx, job.TakeKey)
		if deleteErr != nil {
			w.log.Warn("Failed to delete consumed take '%s': %v", job.TakeKey, deleteErr)
		}
	}

	return &NarrationCompletedEvent{
		WorkflowID: job.WorkflowID,
		AudioKey:   audioKey,
		Duration:   result.Tracker.Duration,
		CacheHit:   result.CacheHit,
	}, nil
}

// publishReplyEvent marshals and responds with the NarrationCompletedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, reply *NarrationCompletedEvent) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseAndValidateJob(msg *nats.Msg) (*NarrationJobEvent, error) {
	var job NarrationJobEvent

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal narration job: %w", err)
	}

	if job.Text == "" {
		return nil, ErrTextEmpty
	}

	if job.TakeKey == "" {
		return nil, ErrTakeKeyEmpty
	}

	return &job, nil
}
