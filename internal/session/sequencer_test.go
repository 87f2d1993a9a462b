package session

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"gradescan/internal/api"
	"gradescan/internal/exam"
)

// fakeService implements the grading protocol with switchable failure modes.
type fakeService struct {
	mu             sync.Mutex
	startFailures  int
	hasReference   bool
	failFinish     bool
	omitStageField string
	startCalls     int
	finishCalls    int
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /exam/start", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.startCalls++
		fail := f.startFailures > 0
		if fail {
			f.startFailures--
		}
		f.mu.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, `{"session_id":"abc123"}`)
	})
	stageResponses := map[string]string{
		"/exam/exam_code":  `{"exam_code":"DE001"}`,
		"/exam/student_id": `{"student_id":"SBD12345"}`,
		"/exam/p1":         `{"score_p1":2.5}`,
		"/exam/p2":         `{"score_p2":3.0}`,
		"/exam/p3":         `{"score_p3":2.5}`,
	}
	for path, response := range stageResponses {
		mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			if r.FormValue("session_id") != "abc123" {
				http.Error(w, "unknown session", http.StatusNotFound)
				return
			}
			f.mu.Lock()
			omit := f.omitStageField
			f.mu.Unlock()
			if omit == r.URL.Path {
				writeJSON(w, `{"status":"processed"}`)
				return
			}
			writeJSON(w, response)
		})
	}
	mux.HandleFunc("GET /correctans/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		has := f.hasReference
		f.mu.Unlock()
		if !has || r.URL.Query().Get("exam_code") != "DE001" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, `{"correct_ans_id":"ca-42"}`)
	})
	mux.HandleFunc("POST /exam/finish", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.finishCalls++
		fail := f.failFinish
		f.mu.Unlock()
		if fail {
			http.Error(w, "grading backend down", http.StatusBadGateway)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("correct_ans_id") != "ca-42" {
			http.Error(w, "missing reference", http.StatusBadRequest)
			return
		}
		writeJSON(w, `{"student_id":"SBD12345","exam_code":"DE001","score_p1":2.5,"score_p2":3.0,"score_p3":2.5,"total_score":8.0}`)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprint(w, body); err != nil {
		// Best-effort response write.
		_ = err
	}
}

func newTestSequencer(t *testing.T, svc *fakeService, onComplete func(exam.Result)) *Sequencer {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	client := api.New(srv.URL, 0, zerolog.Nop())
	return New(client, zerolog.Nop(), onComplete)
}

func testImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jpg")
	if err := os.WriteFile(path, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
	return path
}

func TestSequencerHappyPath(t *testing.T) {
	var completed exam.Result
	seq := newTestSequencer(t, &fakeService{hasReference: true}, func(result exam.Result) {
		completed = result
	})
	image := testImage(t)

	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	snap := seq.Snapshot()
	if snap.Step != exam.StepAwaitingExamCode {
		t.Fatalf("expected exam-code step, got %s", snap.Step)
	}
	if snap.SessionID != "abc123" {
		t.Fatalf("unexpected session id: %q", snap.SessionID)
	}

	for _, stage := range exam.StageOrder {
		if err := seq.SubmitCapture(t.Context(), stage, image); err != nil {
			t.Fatalf("stage %s failed: %v", stage, err)
		}
	}

	snap = seq.Snapshot()
	if snap.Step != exam.StepFinished {
		t.Fatalf("expected finished, got %s", snap.Step)
	}
	if snap.Progress.ExamCode != "DE001" || snap.Progress.StudentID != "SBD12345" {
		t.Fatalf("unexpected progress: %+v", snap.Progress)
	}
	if snap.Progress.ScoreP1 == nil || *snap.Progress.ScoreP1 != 2.5 {
		t.Fatalf("unexpected p1 score: %v", snap.Progress.ScoreP1)
	}
	if snap.Progress.ScoreP2 == nil || *snap.Progress.ScoreP2 != 3.0 {
		t.Fatalf("unexpected p2 score: %v", snap.Progress.ScoreP2)
	}
	if snap.Progress.ScoreP3 == nil || *snap.Progress.ScoreP3 != 2.5 {
		t.Fatalf("unexpected p3 score: %v", snap.Progress.ScoreP3)
	}
	total, ok := snap.Result.TotalScore()
	if !ok || total != 8.0 {
		t.Fatalf("unexpected total: %v (%v)", total, ok)
	}
	if completed == nil {
		t.Fatalf("expected completion callback")
	}
	if id, _ := completed.StringField("student_id"); id != "SBD12345" {
		t.Fatalf("unexpected completion result: %v", completed)
	}
}

func TestSequencerInitializeIsIdempotent(t *testing.T) {
	svc := &fakeService{hasReference: true}
	seq := newTestSequencer(t, svc, nil)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
	if svc.startCalls != 1 {
		t.Fatalf("expected 1 start call, got %d", svc.startCalls)
	}
}

func TestSequencerBootstrapRetryCap(t *testing.T) {
	seq := newTestSequencer(t, &fakeService{startFailures: 10}, nil)
	if err := seq.Initialize(t.Context()); err == nil {
		t.Fatalf("expected bootstrap failure")
	}
	for i := 1; i < MaxBootstrapRetries; i++ {
		if err := seq.Retry(t.Context()); err == nil {
			t.Fatalf("expected retry %d to fail", i)
		}
	}
	snap := seq.Snapshot()
	if snap.RetryCount != MaxBootstrapRetries {
		t.Fatalf("expected retry count %d, got %d", MaxBootstrapRetries, snap.RetryCount)
	}
	if err := seq.Retry(t.Context()); !errors.Is(err, ErrBootstrapExhausted) {
		t.Fatalf("expected ErrBootstrapExhausted, got %v", err)
	}

	seq.Reset()
	snap = seq.Snapshot()
	if snap.RetryCount != 0 || snap.Step != exam.StepInit {
		t.Fatalf("expected clean state after reset, got %+v", snap)
	}
}

func TestSequencerBootstrapRecovers(t *testing.T) {
	seq := newTestSequencer(t, &fakeService{startFailures: 1, hasReference: true}, nil)
	if err := seq.Initialize(t.Context()); err == nil {
		t.Fatalf("expected first initialize to fail")
	}
	if err := seq.Retry(t.Context()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	snap := seq.Snapshot()
	if snap.Step != exam.StepAwaitingExamCode || snap.RetryCount != 0 || snap.Err != "" {
		t.Fatalf("unexpected state after recovery: %+v", snap)
	}
}

func TestSequencerRejectsSubmissionBeforeInit(t *testing.T) {
	seq := newTestSequencer(t, &fakeService{}, nil)
	err := seq.SubmitCapture(t.Context(), exam.StageExamCode, testImage(t))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSequencerRejectsWrongStage(t *testing.T) {
	seq := newTestSequencer(t, &fakeService{hasReference: true}, nil)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	err := seq.SubmitCapture(t.Context(), exam.StagePart2, testImage(t))
	if !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage, got %v", err)
	}
	err = seq.SubmitCapture(t.Context(), "bogus", testImage(t))
	if !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage for unknown stage, got %v", err)
	}
}

func TestSequencerMissingReferenceKeepsStage(t *testing.T) {
	svc := &fakeService{}
	seq := newTestSequencer(t, svc, nil)
	image := testImage(t)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	err := seq.SubmitCapture(t.Context(), exam.StageExamCode, image)
	var missing *MissingReferenceError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingReferenceError, got %v", err)
	}
	if missing.ExamCode != "DE001" {
		t.Fatalf("unexpected exam code: %q", missing.ExamCode)
	}
	snap := seq.Snapshot()
	if !snap.NeedsReference {
		t.Fatalf("expected needs-reference flag")
	}
	if snap.Step != exam.StepAwaitingExamCode {
		t.Fatalf("expected unchanged step, got %s", snap.Step)
	}
	if snap.Progress.ExamCode != "" {
		t.Fatalf("expected no partial progress, got %+v", snap.Progress)
	}

	// After the answer set is registered the same capture goes through.
	svc.mu.Lock()
	svc.hasReference = true
	svc.mu.Unlock()
	if err := seq.SubmitCapture(t.Context(), exam.StageExamCode, image); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	snap = seq.Snapshot()
	if snap.Step != exam.StepAwaitingStudentID || snap.NeedsReference {
		t.Fatalf("unexpected state after retry: %+v", snap)
	}
}

func TestSequencerMalformedStageWritesNothing(t *testing.T) {
	svc := &fakeService{hasReference: true, omitStageField: "/exam/p1"}
	seq := newTestSequencer(t, svc, nil)
	image := testImage(t)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	for _, stage := range []exam.Stage{exam.StageExamCode, exam.StageStudentID} {
		if err := seq.SubmitCapture(t.Context(), stage, image); err != nil {
			t.Fatalf("stage %s failed: %v", stage, err)
		}
	}

	err := seq.SubmitCapture(t.Context(), exam.StagePart1, image)
	var malformed *api.MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedError, got %v", err)
	}
	snap := seq.Snapshot()
	if snap.Step != exam.StepAwaitingPart1 {
		t.Fatalf("expected unchanged step, got %s", snap.Step)
	}
	if snap.Progress.ScoreP1 != nil {
		t.Fatalf("expected no p1 score, got %v", *snap.Progress.ScoreP1)
	}

	svc.mu.Lock()
	svc.omitStageField = ""
	svc.mu.Unlock()
	if err := seq.SubmitCapture(t.Context(), exam.StagePart1, image); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestSequencerFinishFailureRetriesWithPart3(t *testing.T) {
	svc := &fakeService{hasReference: true, failFinish: true}
	seq := newTestSequencer(t, svc, nil)
	image := testImage(t)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	for _, stage := range []exam.Stage{exam.StageExamCode, exam.StageStudentID, exam.StagePart1, exam.StagePart2} {
		if err := seq.SubmitCapture(t.Context(), stage, image); err != nil {
			t.Fatalf("stage %s failed: %v", stage, err)
		}
	}

	err := seq.SubmitCapture(t.Context(), exam.StagePart3, image)
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	snap := seq.Snapshot()
	if snap.Step != exam.StepAwaitingPart3 {
		t.Fatalf("expected unchanged step, got %s", snap.Step)
	}
	if snap.Progress.ScoreP3 != nil {
		t.Fatalf("expected no p3 score after failed finish")
	}

	svc.mu.Lock()
	svc.failFinish = false
	svc.mu.Unlock()
	if err := seq.SubmitCapture(t.Context(), exam.StagePart3, image); err != nil {
		t.Fatalf("expected resubmission to finish: %v", err)
	}
	snap = seq.Snapshot()
	if snap.Step != exam.StepFinished {
		t.Fatalf("expected finished, got %s", snap.Step)
	}
	if svc.finishCalls != 2 {
		t.Fatalf("expected 2 finish calls, got %d", svc.finishCalls)
	}
}

// blockingService mirrors fakeService but parks one chosen endpoint until
// released, so tests can act while a call is in flight.
type blockingService struct {
	fakeService
	blockPath string
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once

	stageCalls atomic.Int32
}

func newBlockingService(blockPath string) *blockingService {
	return &blockingService{
		fakeService: fakeService{hasReference: true},
		blockPath:   blockPath,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (b *blockingService) handler() http.Handler {
	inner := b.fakeService.handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/exam/") && r.URL.Path != "/exam/start" && r.URL.Path != "/exam/finish" {
			b.stageCalls.Add(1)
		}
		if r.URL.Path == b.blockPath {
			b.once.Do(func() { close(b.entered) })
			<-b.release
		}
		inner.ServeHTTP(w, r)
	})
}

func TestSequencerRejectsConcurrentSubmit(t *testing.T) {
	svc := newBlockingService("/exam/exam_code")
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	seq := New(api.New(srv.URL, 0, zerolog.Nop()), zerolog.Nop(), nil)
	image := testImage(t)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- seq.SubmitCapture(t.Context(), exam.StageExamCode, image)
	}()
	<-svc.entered

	if err := seq.SubmitCapture(t.Context(), exam.StageExamCode, image); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !seq.Snapshot().Busy {
		t.Fatalf("expected busy snapshot while a call is in flight")
	}

	close(svc.release)
	if err := <-done; err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	if got := svc.stageCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 stage request, got %d", got)
	}
	if snap := seq.Snapshot(); snap.Step != exam.StepAwaitingStudentID {
		t.Fatalf("expected first submission applied, got %s", snap.Step)
	}
}

func TestSequencerCloseDiscardsInFlightResult(t *testing.T) {
	svc := newBlockingService("/exam/exam_code")
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	seq := New(api.New(srv.URL, 0, zerolog.Nop()), zerolog.Nop(), nil)
	image := testImage(t)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	before := seq.Snapshot()

	done := make(chan error, 1)
	go func() {
		done <- seq.SubmitCapture(t.Context(), exam.StageExamCode, image)
	}()
	<-svc.entered
	seq.Close()
	close(svc.release)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	snap := seq.Snapshot()
	if snap.Step != before.Step {
		t.Fatalf("expected unchanged step after teardown, got %s", snap.Step)
	}
	if snap.Progress.ExamCode != "" {
		t.Fatalf("expected no progress applied after teardown, got %+v", snap.Progress)
	}
}

func TestSequencerCloseDuringFinishSkipsCompletion(t *testing.T) {
	svc := newBlockingService("/exam/finish")
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	completions := 0
	seq := New(api.New(srv.URL, 0, zerolog.Nop()), zerolog.Nop(), func(exam.Result) {
		completions++
	})
	image := testImage(t)
	if err := seq.Initialize(t.Context()); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	for _, stage := range []exam.Stage{exam.StageExamCode, exam.StageStudentID, exam.StagePart1, exam.StagePart2} {
		if err := seq.SubmitCapture(t.Context(), stage, image); err != nil {
			t.Fatalf("stage %s failed: %v", stage, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- seq.SubmitCapture(t.Context(), exam.StagePart3, image)
	}()
	<-svc.entered
	seq.Close()
	close(svc.release)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if completions != 0 {
		t.Fatalf("expected no completion callback after teardown, got %d", completions)
	}
	if snap := seq.Snapshot(); snap.Progress.ScoreP3 != nil {
		t.Fatalf("expected no p3 score applied after teardown")
	}
}

func TestSequencerClosedRejectsEverything(t *testing.T) {
	seq := newTestSequencer(t, &fakeService{hasReference: true}, nil)
	seq.Close()
	if err := seq.Initialize(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := seq.SubmitCapture(t.Context(), exam.StageExamCode, testImage(t)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
