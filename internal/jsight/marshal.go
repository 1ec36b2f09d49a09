package jsight

import (
	"math"
	"runtime"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/sys/unix"
)

// arena owns the Go memory built for one foreign call. Everything it hands out
// stays pinned until release, which must not run before the call returns.
type arena struct {
	pinner runtime.Pinner
}

func (a *arena) release() {
	a.pinner.Unpin()
}

func (a *arena) cString(field, s string) (*byte, error) {
	p, err := unix.BytePtrFromString(s)
	if err != nil {
		return nil, &EncodingError{Field: field, Reason: "contains NUL byte"}
	}
	a.pinner.Pin(p)
	return p, nil
}

func (a *arena) cInt(field string, v int) (*int32, error) {
	n, err := cInt(field, v)
	if err != nil {
		return nil, err
	}
	p := new(int32)
	*p = n
	a.pinner.Pin(p)
	return p, nil
}

func cInt(field string, v int) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, &EncodingError{Field: field, Reason: "does not fit a C int"}
	}
	return int32(v), nil
}

// headers builds the Header** array. It always has len(hs)+1 entries; the last
// one is the nil sentinel the engine stops at.
func (a *arena) headers(hs []Header) ([]*cHeader, error) {
	structs := make([]cHeader, len(hs))
	ptrs := make([]*cHeader, len(hs)+1)
	for i, h := range hs {
		name, err := a.cString("header name", h.Name)
		if err != nil {
			return nil, err
		}
		value, err := a.cString("header "+h.Name, h.Value)
		if err != nil {
			return nil, err
		}
		structs[i] = cHeader{name: name, value: value}
		ptrs[i] = &structs[i]
	}
	if len(structs) > 0 {
		a.pinner.Pin(&structs[0])
	}
	a.pinner.Pin(&ptrs[0])
	return ptrs, nil
}

// cStrings builds a nil-terminated char** array.
func (a *arena) cStrings(field string, ss []string) (**byte, error) {
	ptrs := make([]*byte, len(ss)+1)
	for i, s := range ss {
		p, err := a.cString(field, s)
		if err != nil {
			return nil, err
		}
		ptrs[i] = p
	}
	a.pinner.Pin(&ptrs[0])
	return &ptrs[0], nil
}

func (a *arena) validationError(verr *ValidationError) (*cValidationError, error) {
	code, err := cInt("code", verr.Code)
	if err != nil {
		return nil, err
	}
	ce := &cValidationError{code: code}

	strs := []struct {
		field string
		src   string
		dst   **byte
	}{
		{"reported_by", verr.ReportedBy, &ce.reportedBy},
		{"type", verr.Type, &ce.kind},
		{"title", verr.Title, &ce.title},
		{"detail", verr.Detail, &ce.detail},
	}
	for _, s := range strs {
		if *s.dst, err = a.cString(s.field, s.src); err != nil {
			return nil, err
		}
	}

	if verr.Position != nil {
		if ce.position, err = a.position(verr.Position); err != nil {
			return nil, err
		}
	}
	if ce.trace, err = a.cStrings("trace", verr.Trace); err != nil {
		return nil, err
	}

	a.pinner.Pin(ce)
	return ce, nil
}

func (a *arena) position(pos *Position) (*cPosition, error) {
	cp := &cPosition{}
	var err error
	if pos.Filepath != nil {
		if cp.filepath, err = a.cString("position.filepath", *pos.Filepath); err != nil {
			return nil, err
		}
	}
	ints := []struct {
		field string
		src   *int
		dst   **int32
	}{
		{"position.index", pos.Index, &cp.index},
		{"position.line", pos.Line, &cp.line},
		{"position.col", pos.Col, &cp.col},
	}
	for _, n := range ints {
		if n.src == nil {
			continue
		}
		if *n.dst, err = a.cInt(n.field, *n.src); err != nil {
			return nil, err
		}
	}
	a.pinner.Pin(cp)
	return cp, nil
}

// goString copies a NUL-terminated string out of foreign memory. A nil pointer
// yields the empty string.
func goString(field string, p *byte) (string, error) {
	s := unix.BytePtrToString(p)
	if !utf8.ValidString(s) {
		return "", &EncodingError{Field: field, Reason: "invalid UTF-8"}
	}
	return s, nil
}

// decodeError deep-copies ce. The result shares no memory with ce.
func decodeError(ce *cValidationError) (*ValidationError, error) {
	out := &ValidationError{Code: int(ce.code), Trace: []string{}}

	strs := []struct {
		field string
		src   *byte
		dst   *string
	}{
		{"reported_by", ce.reportedBy, &out.ReportedBy},
		{"type", ce.kind, &out.Type},
		{"title", ce.title, &out.Title},
		{"detail", ce.detail, &out.Detail},
	}
	var err error
	for _, s := range strs {
		if *s.dst, err = goString(s.field, s.src); err != nil {
			return nil, err
		}
	}

	if ce.position != nil {
		if out.Position, err = decodePosition(ce.position); err != nil {
			return nil, err
		}
	}
	if ce.trace != nil {
		if out.Trace, err = decodeStrings("trace", ce.trace); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodePosition(cp *cPosition) (*Position, error) {
	pos := &Position{
		Index: intValue(cp.index),
		Line:  intValue(cp.line),
		Col:   intValue(cp.col),
	}
	if cp.filepath != nil {
		path, err := goString("position.filepath", cp.filepath)
		if err != nil {
			return nil, err
		}
		pos.Filepath = &path
	}
	return pos, nil
}

func decodeStrings(field string, arr **byte) ([]string, error) {
	out := []string{}
	for p := arr; *p != nil; p = (**byte)(unsafe.Add(unsafe.Pointer(p), unsafe.Sizeof(*p))) {
		s, err := goString(field, *p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func intValue(p *int32) *int {
	if p == nil {
		return nil
	}
	v := int(*p)
	return &v
}
