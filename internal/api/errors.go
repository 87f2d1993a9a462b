package api

import "fmt"

const bodyExcerptLimit = 300

// TransportError reports a network failure or timeout before any usable
// response arrived.
type TransportError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timed out: %s", e.URL)
	}
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("request to %s failed: HTTP %d %s", e.URL, e.Code, e.Status)
	if e.Body != "" {
		msg += " " + e.Body
	}
	return msg
}

// MalformedError reports a 2xx response that could not be used: undecodable
// JSON, a non-object payload, or a missing required field.
type MalformedError struct {
	URL    string
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("response from %s missing %q", e.URL, e.Field)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.URL, e.Reason)
}

func excerpt(body string) string {
	if len(body) <= bodyExcerptLimit {
		return body
	}
	return body[:bodyExcerptLimit] + "..."
}
