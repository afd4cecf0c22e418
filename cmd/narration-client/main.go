// main package for the narration client: uploads a recorded take and submits
// a narration job over NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audioutil"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTextDesc    = "Narration text for the line"
	flagSlotDesc    = "Slot index of the line in the cache (negative appends)"
	flagTakeDesc    = "Path to the recorded take (.wav) to upload"
	flagTimeoutDesc = "Seconds to wait for the service reply"
)

const defaultReplyTimeout = 60

var (
	errTextRequired = errors.New("--text is required")
	errTakeRequired = errors.New("--take is required")
	errTakeNotAudio = errors.New("take must be an audio file")
)

type appFlags struct {
	text    string
	slot    int
	take    string
	timeout int
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	err := validateFlags(flags)
	if err != nil {
		return err
	}

	bootstrapLog, err := logger.New(os.TempDir(), "narration-client.log")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return submit(cfg, flags, bootstrapLog)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.IntVar(&flags.slot, "slot", -1, flagSlotDesc)
	flag.StringVar(&flags.take, "take", "", flagTakeDesc)
	flag.IntVar(&flags.timeout, "timeout", defaultReplyTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

func validateFlags(flags appFlags) error {
	if flags.text == "" {
		return errTextRequired
	}

	if flags.take == "" {
		return errTakeRequired
	}

	if !audioutil.IsValidAudioFile(flags.take) {
		return fmt.Errorf("%w: %s", errTakeNotAudio, flags.take)
	}

	return nil
}

// submit uploads the take to the object store, publishes the job, and prints
// the service's reply.
func submit(cfg *config.Config, flags appFlags, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	blobStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	takeData, err := os.ReadFile(flags.take)
	if err != nil {
		return fmt.Errorf("failed to read take %s: %w", flags.take, err)
	}

	takeKey := uuid.NewString() + audioutil.ExtWAV

	err = blobStore.Upload(context.Background(), takeKey, takeData)
	if err != nil {
		return err
	}

	log.Info("Uploaded take %s as '%s'", flags.take, takeKey)

	job := worker.NarrationJobEvent{
		WorkflowID: uuid.NewString(),
		Text:       flags.text,
		Slot:       flags.slot,
		TakeKey:    takeKey,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal narration job: %w", err)
	}

	timeout := time.Duration(flags.timeout) * time.Second

	replyMsg, err := natsConnection.Request(cfg.NATS.NarrationSubject, jobData, timeout)
	if err != nil {
		return fmt.Errorf("narration request failed: %w", err)
	}

	var reply worker.NarrationCompletedEvent

	err = json.Unmarshal(replyMsg.Data, &reply)
	if err != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	fmt.Printf("Narration ready: key=%s duration=%s cache_hit=%v\n",
		reply.AudioKey, audioutil.FormatClock(reply.Duration), reply.CacheHit)

	return nil
}
