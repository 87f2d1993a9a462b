// Package reference collects and registers correct-answer sheets.
package reference

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"gradescan/internal/api"
	"gradescan/internal/exam"
)

// PartStages lists the answer-sheet parts a registration needs, in order.
var PartStages = []exam.Stage{exam.StagePart1, exam.StagePart2, exam.StagePart3}

// Registrar accumulates the exam code and the three part captures, then
// submits them as one registration. Captures may arrive in any order and may
// be replaced before Submit.
type Registrar struct {
	client *api.Client
	log    zerolog.Logger

	mu       sync.Mutex
	examCode string
	paths    map[exam.Stage]string
}

// New builds a registrar over the given client.
func New(client *api.Client, log zerolog.Logger) *Registrar {
	return &Registrar{
		client: client,
		log:    log,
		paths:  make(map[exam.Stage]string),
	}
}

// SetExamCode records the exam code the sheets belong to.
func (r *Registrar) SetExamCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("exam code is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examCode = code
	return nil
}

// ExamCode returns the recorded exam code.
func (r *Registrar) ExamCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.examCode
}

// AddCapture records the capture path for one answer part. Re-adding a stage
// replaces the earlier capture.
func (r *Registrar) AddCapture(stage exam.Stage, path string) error {
	switch stage {
	case exam.StagePart1, exam.StagePart2, exam.StagePart3:
	default:
		return fmt.Errorf("stage %s is not an answer part", stage)
	}
	if path == "" {
		return fmt.Errorf("capture path is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[stage] = path
	return nil
}

// Missing lists the answer parts still without a capture, in order.
func (r *Registrar) Missing() []exam.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var missing []exam.Stage
	for _, stage := range PartStages {
		if _, ok := r.paths[stage]; !ok {
			missing = append(missing, stage)
		}
	}
	return missing
}

// Submit registers the collected sheets. It refuses while the set is
// incomplete; on success the collected state is cleared for the next code.
func (r *Registrar) Submit(ctx context.Context) error {
	r.mu.Lock()
	code := r.examCode
	paths := make(map[exam.Stage]string, len(r.paths))
	for stage, path := range r.paths {
		paths[stage] = path
	}
	r.mu.Unlock()

	if code == "" {
		return fmt.Errorf("exam code is empty")
	}
	for _, stage := range PartStages {
		if _, ok := paths[stage]; !ok {
			return fmt.Errorf("missing capture for part %s", stage)
		}
	}
	if err := r.client.CreateCorrectAnswers(ctx, code, paths); err != nil {
		return err
	}
	r.log.Info().Str("exam_code", code).Msg("reference set registered")

	r.mu.Lock()
	r.examCode = ""
	r.paths = make(map[exam.Stage]string)
	r.mu.Unlock()
	return nil
}

// Lookup resolves the stored reference set identifier for an exam code.
func (r *Registrar) Lookup(ctx context.Context, examCode string) (string, error) {
	return r.client.SearchCorrectAnswers(ctx, examCode)
}
