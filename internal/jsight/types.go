package jsight

import (
	"net/http"
	"sort"
)

// ValidationError is a contract violation reported by the engine, copied into
// Go memory.
type ValidationError struct {
	ReportedBy string    `json:"reported_by"`
	Type       string    `json:"type"`
	Code       int       `json:"code"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail"`
	Position   *Position `json:"position,omitempty"`
	Trace      []string  `json:"trace"`
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Title + ": " + e.Detail
}

// Position locates a violation. Every field may be absent on its own.
type Position struct {
	Filepath *string `json:"filepath,omitempty"`
	Index    *int    `json:"index,omitempty"`
	Line     *int    `json:"line,omitempty"`
	Col      *int    `json:"col,omitempty"`
}

// Header is one name/value pair. Names may repeat.
type Header struct {
	Name  string
	Value string
}

// HeadersFromHTTP flattens h into pairs, one per value, ordered by name.
func HeadersFromHTTP(h http.Header) []Header {
	names := make([]string, 0, len(h))
	total := 0
	for name, values := range h {
		names = append(names, name)
		total += len(values)
	}
	sort.Strings(names)

	out := make([]Header, 0, total)
	for _, name := range names {
		for _, value := range h[name] {
			out = append(out, Header{Name: name, Value: value})
		}
	}
	return out
}

// Request is the input of one request validation pass.
type Request struct {
	SpecPath string
	Method   string
	URI      string
	Headers  []Header
	Body     []byte
}

// Response is the input of one response validation pass.
type Response struct {
	SpecPath   string
	Method     string
	URI        string
	StatusCode int
	Headers    []Header
	Body       []byte
}
