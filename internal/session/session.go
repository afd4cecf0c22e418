// Package session enforces the recording session state machine between UI
// intent and the capture engine: which transitions are legal, and when the
// buffer may be handed off to the artifact store.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/record"
)

// State is the session's position in the capture/playback lifecycle.
type State int

// Session states. Recording and Playing are mutually exclusive for one
// session.
const (
	Idle State = iota
	Recording
	RecordingPaused
	Stopped
	Playing
	PlaybackPaused
)

// String returns the state name for logs and UI display.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case RecordingPaused:
		return "recording-paused"
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case PlaybackPaused:
		return "playback-paused"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition indicates a UI intent that is illegal in the current
// state. Illegal stops are treated as no-ops and do not produce this error.
var ErrInvalidTransition = errors.New("invalid session transition")

// Session ties capture and playback intent to the recorder, owning the frame
// buffer exclusively until a take is accepted or discarded.
type Session struct {
	mu    sync.Mutex
	state State

	recorder *record.Recorder
	log      *logger.Logger
}

// New creates an idle session around a recorder.
func New(recorder *record.Recorder, log *logger.Logger) *Session {
	return &Session{
		state:    Idle,
		recorder: recorder,
		log:      log,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Recorder exposes the underlying engine for UI pollers (waveform peak,
// position, duration).
func (s *Session) Recorder() *record.Recorder {
	return s.recorder
}

// StartRecording begins a new take. Legal from Idle and Stopped; a stopped
// take is discarded first.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle && s.state != Stopped {
		return fmt.Errorf("%w: start recording while %s", ErrInvalidTransition, s.state)
	}

	if s.state == Stopped {
		s.recorder.Reset()
	}

	err := s.recorder.StartRecording()
	if err != nil {
		return err
	}

	s.state = Recording
	s.log.Info("Session state: %s", s.state)

	return nil
}

// PauseRecording suspends the capture. Legal only while recording.
func (s *Session) PauseRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return fmt.Errorf("%w: pause recording while %s", ErrInvalidTransition, s.state)
	}

	s.recorder.PauseRecording()
	s.state = RecordingPaused

	return nil
}

// ResumeRecording resumes a paused capture.
func (s *Session) ResumeRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != RecordingPaused {
		return fmt.Errorf("%w: resume recording while %s", ErrInvalidTransition, s.state)
	}

	s.recorder.ResumeRecording()
	s.state = Recording

	return nil
}

// StopRecording ends the capture and joins the capture goroutine. Calling it
// when no capture is active is a no-op.
func (s *Session) StopRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording && s.state != RecordingPaused {
		return
	}

	s.recorder.StopRecording()
	s.state = Stopped
	s.log.Info("Session state: %s", s.state)
}

// StartPlayback reviews the recorded take. Legal only from Stopped; an empty
// buffer is a no-op signal surfaced as record.ErrNothingRecorded.
func (s *Session) StartPlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("%w: start playback while %s", ErrInvalidTransition, s.state)
	}

	err := s.recorder.StartPlayback()
	if err != nil {
		return err
	}

	s.state = Playing

	return nil
}

// PausePlayback suspends the review playback.
func (s *Session) PausePlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing {
		return fmt.Errorf("%w: pause playback while %s", ErrInvalidTransition, s.state)
	}

	s.recorder.PausePlayback()
	s.state = PlaybackPaused

	return nil
}

// ResumePlayback resumes a paused review playback.
func (s *Session) ResumePlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != PlaybackPaused {
		return fmt.Errorf("%w: resume playback while %s", ErrInvalidTransition, s.state)
	}

	s.recorder.ResumePlayback()
	s.state = Playing

	return nil
}

// StopPlayback cancels the review playback and joins the playback goroutine.
// Calling it when no playback is active is a no-op.
func (s *Session) StopPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing && s.state != PlaybackPaused {
		return
	}

	s.recorder.StopPlayback()
	s.state = Stopped
}

// Accept saves the recorded take to path and resets the session for the next
// take. This is the handoff point to the artifact store. Legal only from
// Stopped.
func (s *Session) Accept(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("%w: accept while %s", ErrInvalidTransition, s.state)
	}

	err := s.recorder.Save(path)
	if err != nil {
		return err
	}

	s.recorder.Reset()
	s.state = Idle

	return nil
}

// NewTake discards the current buffer and re-arms the session. Legal from any
// non-active state.
func (s *Session) NewTake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Recording || s.state == RecordingPaused || s.state == Playing || s.state == PlaybackPaused {
		return fmt.Errorf("%w: new take while %s", ErrInvalidTransition, s.state)
	}

	s.recorder.Reset()
	s.state = Idle

	return nil
}
