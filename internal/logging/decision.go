package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxDetail = 256

// Outcomes recorded for a request.
const (
	OutcomeCompleted        = "completed"
	OutcomeRequestRejected  = "request_rejected"
	OutcomeResponseRejected = "response_rejected"
	OutcomeEngineError      = "engine_error"
	OutcomeBlocked          = "blocked"
	OutcomeAbandoned        = "abandoned"
)

// Decision is written as a single JSON object per request.
type Decision struct {
	Timestamp    time.Time  `json:"ts"`
	RequestID    string     `json:"request_id"`
	ClientIP     string     `json:"client_ip"`
	Host         string     `json:"host"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	Query        string     `json:"query"`
	RouteID      string     `json:"route_id"`
	Spec         string     `json:"spec"`
	Outcome      string     `json:"outcome"`
	StatusCode   int        `json:"status_code"`
	Violation    *Violation `json:"violation,omitempty"`
	RateLimited  bool       `json:"rate_limited"`
	DurationMS   int64      `json:"duration_ms"`
	UpstreamMS   int64      `json:"upstream_ms"`
	ValidationMS int64      `json:"validation_ms"`
}

// Violation summarises the contract violation that rejected a request.
type Violation struct {
	Phase      string   `json:"phase"`
	ReportedBy string   `json:"reported_by"`
	Type       string   `json:"type"`
	Code       int      `json:"code"`
	Title      string   `json:"title"`
	Detail     string   `json:"detail"`
	Trace      []string `json:"trace"`
}

type DecisionLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDecisionLogger(w io.Writer) *DecisionLogger {
	return &DecisionLogger{w: w}
}

func OpenDecisionLog(path string) (*DecisionLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewDecisionLogger(file), file.Close, nil
}

func (l *DecisionLogger) Write(decision Decision) error {
	decision.Violation = sanitizeViolation(decision.Violation)

	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

func sanitizeViolation(v *Violation) *Violation {
	if v == nil {
		return nil
	}
	out := *v
	if len(out.Detail) > maxDetail {
		out.Detail = out.Detail[:maxDetail]
	}
	out.Trace = append([]string(nil), v.Trace...)
	return &out
}
