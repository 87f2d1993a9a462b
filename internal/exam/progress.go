package exam

// Progress accumulates recognized values and part scores for one session.
// Each field is written exactly once, from the response of its own stage call.
type Progress struct {
	ExamCode  string
	StudentID string
	ScoreP1   *float64
	ScoreP2   *float64
	ScoreP3   *float64
}

// Result is the verbatim JSON object returned by the finish call. The client
// forwards it to the presentation layer without reshaping.
type Result map[string]any

// TotalScore extracts the server-computed total when present.
func (r Result) TotalScore() (float64, bool) {
	v, ok := r["total_score"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// StringField extracts a string field from the result when present.
func (r Result) StringField(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
