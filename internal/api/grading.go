package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"gradescan/internal/exam"
)

// StartSession asks the service for a new grading session identifier.
func (c *Client) StartSession(ctx context.Context) (string, error) {
	payload, err := c.postObject(ctx, "/exam/start", "application/json", nil, nil)
	if err != nil {
		return "", err
	}
	return requireString(c.baseURL+"/exam/start", payload, "session_id")
}

// UploadStage posts one captured image to the stage's endpoint and verifies
// the stage-specific required field is present. The raw payload is returned so
// the caller can extract the recognized value or score.
func (c *Client) UploadStage(ctx context.Context, info exam.StageInfo, sessionID, imagePath string) (map[string]any, error) {
	contentType, body, err := buildForm(
		map[string]string{"session_id": sessionID},
		[]formFile{{field: "image", filename: info.Filename, path: imagePath}},
	)
	if err != nil {
		return nil, err
	}
	payload, err := c.postObject(ctx, info.Endpoint, "", body, multipartHeader(contentType))
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + info.Endpoint
	if _, ok := payload[info.Field]; !ok {
		return nil, &MalformedError{URL: endpoint, Field: info.Field}
	}
	c.log.Info().Str("stage", string(info.Stage)).Msg("stage upload accepted")
	return payload, nil
}

// SearchCorrectAnswers resolves the stored reference-answer set for an exam
// code. A missing set surfaces as a StatusError from the service.
func (c *Client) SearchCorrectAnswers(ctx context.Context, examCode string) (string, error) {
	path := "/correctans/search?exam_code=" + url.QueryEscape(examCode)
	payload, err := c.getJSON(ctx, path)
	if err != nil {
		return "", err
	}
	return requireString(c.baseURL+path, payload, "correct_ans_id")
}

// FinishSession closes the session and returns the scored result object
// verbatim. correctAnsID may be empty when the service resolves the reference
// set on its own.
func (c *Client) FinishSession(ctx context.Context, sessionID, correctAnsID string) (exam.Result, error) {
	fields := map[string]string{"session_id": sessionID}
	if correctAnsID != "" {
		fields["correct_ans_id"] = correctAnsID
	}
	contentType, body, err := buildForm(fields, nil)
	if err != nil {
		return nil, err
	}
	payload, err := c.postObject(ctx, "/exam/finish", "", body, multipartHeader(contentType))
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("session_id", sessionID).Msg("session finished")
	return exam.Result(payload), nil
}

// CreateCorrectAnswers registers the reference-answer set for an exam code
// from three scanned part images. partPaths maps p1/p2/p3 to capture paths.
func (c *Client) CreateCorrectAnswers(ctx context.Context, examCode string, partPaths map[exam.Stage]string) error {
	files := make([]formFile, 0, len(partPaths))
	for _, stage := range []exam.Stage{exam.StagePart1, exam.StagePart2, exam.StagePart3} {
		path, ok := partPaths[stage]
		if !ok {
			return &MalformedError{URL: c.baseURL + "/correctans", Reason: "missing capture for " + string(stage)}
		}
		files = append(files, formFile{
			field:    string(stage) + "_img",
			filename: string(stage) + ".jpg",
			path:     path,
		})
	}
	contentType, body, err := buildForm(map[string]string{"exam_code": examCode}, files)
	if err != nil {
		return err
	}
	payload, err := c.postObject(ctx, "/correctans", "", body, multipartHeader(contentType))
	if err != nil {
		return err
	}
	if _, err := requireString(c.baseURL+"/correctans", payload, "exam_code"); err != nil {
		return err
	}
	c.log.Info().Str("exam_code", examCode).Msg("reference answers registered")
	return nil
}

// CheckConnection probes the recognition backend through the service. The
// body is returned as display text whatever its content type.
func (c *Client) CheckConnection(ctx context.Context) (string, error) {
	payload, err := c.do(ctx, http.MethodGet, "/integration/test-flask-connection", "", nil, nil)
	if err != nil {
		return "", err
	}
	switch v := payload.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg, nil
		}
		if status, ok := v["status"].(string); ok {
			return status, nil
		}
		return "ok", nil
	default:
		return "ok", nil
	}
}

func multipartHeader(contentType string) http.Header {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	return header
}
