// Package session drives the ordered capture-and-upload sequence that turns
// five photographs into one scored exam record.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"gradescan/internal/api"
	"gradescan/internal/exam"
)

// MaxBootstrapRetries caps automatic-free retries of the session start call.
// Once reached, only an explicit Reset starts over.
const MaxBootstrapRetries = 3

// Snapshot is the sequencer state handed to the presentation layer. Exactly
// one of Busy, Err != "", or plain awaiting-capture holds at any time.
type Snapshot struct {
	Step           exam.Step
	SessionID      string
	Busy           bool
	Err            string
	NeedsReference bool
	Progress       exam.Progress
	RetryCount     int
	Result         exam.Result
}

// Sequencer owns the single mutable session record. All state changes happen
// in response to completed network calls; overlapping calls are rejected
// before any request is sent.
type Sequencer struct {
	client *api.Client
	log    zerolog.Logger

	onComplete func(exam.Result)

	mu             sync.Mutex
	closed         bool
	busy           bool
	step           exam.Step
	sessionID      string
	correctAnsID   string
	progress       exam.Progress
	retryCount     int
	lastErr        string
	needsReference bool
	result         exam.Result
}

// New builds a sequencer over the given client. onComplete receives the
// finish-call result object verbatim; it may be nil.
func New(client *api.Client, log zerolog.Logger, onComplete func(exam.Result)) *Sequencer {
	return &Sequencer{
		client:     client,
		log:        log,
		onComplete: onComplete,
		step:       exam.StepInit,
	}
}

// Snapshot returns a copy of the current state.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Step:           s.step,
		SessionID:      s.sessionID,
		Busy:           s.busy,
		Err:            s.lastErr,
		NeedsReference: s.needsReference,
		Progress:       s.progress,
		RetryCount:     s.retryCount,
		Result:         s.result,
	}
}

// Initialize requests a session identifier. It is idempotent: once a session
// exists it returns immediately. On failure the retry counter advances and
// the error is recorded for the snapshot.
func (s *Sequencer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sessionID != "" {
		s.mu.Unlock()
		return nil
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.lastErr = ""
	s.mu.Unlock()

	sessionID, err := s.client.StartSession(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.closed || ctx.Err() != nil {
		// The consumer is gone; do not apply the result.
		return ErrClosed
	}
	if err != nil {
		s.retryCount++
		s.lastErr = err.Error()
		s.log.Warn().Int("attempt", s.retryCount).Err(err).Msg("session bootstrap failed")
		return err
	}
	s.sessionID = sessionID
	s.retryCount = 0
	s.lastErr = ""
	s.step = exam.StepAwaitingExamCode
	s.log.Info().Str("session_id", sessionID).Msg("session started")
	return nil
}

// Retry re-runs initialization while attempts remain. At the cap it refuses
// with ErrBootstrapExhausted so the caller can offer reset-or-abandon.
func (s *Sequencer) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.retryCount >= MaxBootstrapRetries {
		s.mu.Unlock()
		return ErrBootstrapExhausted
	}
	s.mu.Unlock()
	return s.Initialize(ctx)
}

// Reset discards all session state for a retry-from-zero.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.busy = false
	s.step = exam.StepInit
	s.sessionID = ""
	s.correctAnsID = ""
	s.progress = exam.Progress{}
	s.retryCount = 0
	s.lastErr = ""
	s.needsReference = false
	s.result = nil
}

// Close tears the sequencer down. In-flight calls finish naturally but their
// results are discarded.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// SubmitCapture uploads the capture for the given stage and, on success,
// advances exactly one step. Failures leave the step unchanged so the user
// can retry the same capture. The exam-code stage additionally resolves the
// reference-answer set before advancing; the part-3 stage issues the
// finishing call.
func (s *Sequencer) SubmitCapture(ctx context.Context, stage exam.Stage, imagePath string) error {
	info, ok := exam.Info(stage)
	if !ok {
		return ErrWrongStage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.sessionID == "" {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if info.Awaiting != s.step {
		s.mu.Unlock()
		return ErrWrongStage
	}
	s.busy = true
	s.lastErr = ""
	s.needsReference = false
	sessionID := s.sessionID
	s.mu.Unlock()

	err := s.runStage(ctx, info, sessionID, imagePath)

	s.mu.Lock()
	s.busy = false
	discarded := s.closed || ctx.Err() != nil
	s.mu.Unlock()
	if discarded {
		return ErrClosed
	}
	return err
}

// runStage performs the network calls for one stage. It records failures and
// applies progress under the lock, and never mutates state speculatively.
func (s *Sequencer) runStage(ctx context.Context, info exam.StageInfo, sessionID, imagePath string) error {
	payload, err := s.client.UploadStage(ctx, info, sessionID, imagePath)
	if err != nil {
		return s.fail(err, false)
	}
	endpoint := s.client.BaseURL() + info.Endpoint

	switch info.Stage {
	case exam.StageExamCode:
		code, _ := payload[info.Field].(string)
		if code == "" {
			return s.fail(&api.MalformedError{URL: endpoint, Field: info.Field}, false)
		}
		refID, err := s.client.SearchCorrectAnswers(ctx, code)
		if err != nil {
			var statusErr *api.StatusError
			if errors.As(err, &statusErr) {
				return s.fail(&MissingReferenceError{ExamCode: code}, true)
			}
			return s.fail(err, false)
		}
		s.apply(ctx, func() {
			s.progress.ExamCode = code
			s.correctAnsID = refID
			s.step = info.Next
		})
		return nil

	case exam.StageStudentID:
		id, _ := payload[info.Field].(string)
		if id == "" {
			return s.fail(&api.MalformedError{URL: endpoint, Field: info.Field}, false)
		}
		s.apply(ctx, func() {
			s.progress.StudentID = id
			s.step = info.Next
		})
		return nil

	case exam.StagePart1, exam.StagePart2:
		score, ok := payload[info.Field].(float64)
		if !ok {
			return s.fail(&api.MalformedError{URL: endpoint, Field: info.Field}, false)
		}
		s.apply(ctx, func() {
			if info.Stage == exam.StagePart1 {
				s.progress.ScoreP1 = &score
			} else {
				s.progress.ScoreP2 = &score
			}
			s.step = info.Next
		})
		return nil

	case exam.StagePart3:
		score, ok := payload[info.Field].(float64)
		if !ok {
			return s.fail(&api.MalformedError{URL: endpoint, Field: info.Field}, false)
		}
		s.mu.Lock()
		refID := s.correctAnsID
		s.mu.Unlock()
		result, err := s.client.FinishSession(ctx, sessionID, refID)
		if err != nil {
			// Progress is untouched; resubmitting part 3 re-triggers finish.
			return s.fail(err, false)
		}
		applied := s.apply(ctx, func() {
			s.progress.ScoreP3 = &score
			s.step = exam.StepFinished
			s.result = result
		})
		if applied && s.onComplete != nil {
			s.onComplete(result)
		}
		return nil

	default:
		return ErrWrongStage
	}
}

// fail records the error for the snapshot and returns it. The step is left
// unchanged by design: failure means retry-in-place.
func (s *Sequencer) fail(err error, missingReference bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.lastErr = err.Error()
	s.needsReference = missingReference
	s.log.Warn().Str("step", s.step.String()).Err(err).Msg("stage failed")
	return err
}

// apply mutates session state unless the consuming context was torn down. It
// reports whether the mutation was applied.
func (s *Sequencer) apply(ctx context.Context, mutate func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return false
	}
	mutate()
	s.lastErr = ""
	s.needsReference = false
	s.log.Info().Str("step", s.step.String()).Msg("step advanced")
	return true
}
