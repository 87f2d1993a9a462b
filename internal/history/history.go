// Package history handles SQLite persistence of graded exams.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gradescan/internal/exam"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Record is one completed grading run.
type Record struct {
	ID         int64
	SessionID  string
	ExamCode   string
	StudentID  string
	ScoreP1    float64
	ScoreP2    float64
	ScoreP3    float64
	TotalScore float64
	ResultJSON string
	CreatedAt  time.Time
}

// Filter narrows a List query.
type Filter struct {
	ExamCode string
	Since    *time.Time
	Limit    int
}

// Store wraps SQLite access for grading history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graded_exams (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			exam_code TEXT NOT NULL,
			student_id TEXT NOT NULL,
			score_p1 REAL NOT NULL,
			score_p2 REAL NOT NULL,
			score_p3 REAL NOT NULL,
			total_score REAL NOT NULL,
			result_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_graded_exams_exam_code ON graded_exams(exam_code);`,
		`CREATE INDEX IF NOT EXISTS idx_graded_exams_created_at ON graded_exams(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores one graded exam. The full result object is kept as JSON next
// to the extracted columns so nothing the service returned is lost. Timestamps
// are stored as UTC text so string comparison agrees with time order.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graded_exams (session_id, exam_code, student_id, score_p1, score_p2, score_p3, total_score, result_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.ExamCode,
		rec.StudentID,
		rec.ScoreP1,
		rec.ScoreP2,
		rec.ScoreP3,
		rec.TotalScore,
		rec.ResultJSON,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns graded exams matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.ExamCode != "" {
		clauses = append(clauses, "exam_code = ?")
		args = append(args, filter.ExamCode)
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query := fmt.Sprintf(`SELECT id, session_id, exam_code, student_id, score_p1, score_p2, score_p3, total_score, result_json, created_at
		FROM graded_exams
		WHERE %s
		ORDER BY created_at DESC`, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var records []Record
	for rows.Next() {
		var rec Record
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ExamCode, &rec.StudentID,
			&rec.ScoreP1, &rec.ScoreP2, &rec.ScoreP3, &rec.TotalScore, &rec.ResultJSON, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = parsed
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// RecordFromResult builds a Record from a finish-call result object. Fields
// the service omitted stay at their zero values.
func RecordFromResult(sessionID string, result exam.Result, at time.Time) Record {
	rec := Record{
		SessionID: sessionID,
		CreatedAt: at,
	}
	if code, ok := result.StringField("exam_code"); ok {
		rec.ExamCode = code
	}
	if id, ok := result.StringField("student_id"); ok {
		rec.StudentID = id
	}
	if v, ok := result["score_p1"].(float64); ok {
		rec.ScoreP1 = v
	}
	if v, ok := result["score_p2"].(float64); ok {
		rec.ScoreP2 = v
	}
	if v, ok := result["score_p3"].(float64); ok {
		rec.ScoreP3 = v
	}
	if total, ok := result.TotalScore(); ok {
		rec.TotalScore = total
	}
	if raw, err := json.Marshal(result); err == nil {
		rec.ResultJSON = string(raw)
	}
	return rec
}
