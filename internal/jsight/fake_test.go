package jsight

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fakeLibrary binds Go functions in place of foreign symbols.
type fakeLibrary struct {
	funcs  map[string]any
	closes atomic.Int32
}

func (l *fakeLibrary) Bind(symbol string, fptr any) error {
	fn, ok := l.funcs[symbol]
	if !ok {
		return fmt.Errorf("undefined symbol: %s", symbol)
	}
	reflect.ValueOf(fptr).Elem().Set(reflect.ValueOf(fn))
	return nil
}

func (l *fakeLibrary) Close() error {
	l.closes.Add(1)
	return nil
}

type fakeLoader struct {
	err    error
	newLib func() *fakeLibrary
	loaded []*fakeLibrary
}

func (l *fakeLoader) Load(path string) (Library, error) {
	if l.err != nil {
		return nil, l.err
	}
	lib := l.newLib()
	l.loaded = append(l.loaded, lib)
	return lib, nil
}

func (l *fakeLoader) live() int {
	n := 0
	for _, lib := range l.loaded {
		if lib.closes.Load() == 0 {
			n++
		}
	}
	return n
}

type fakeCall struct {
	spec, method, uri, body string
	status                  int
	headers                 []Header
	entries                 int
}

// fakeEngine behaves like libjsight: errors it returns live in memory it owns
// until freeValidationError, which poisons them before letting go.
type fakeEngine struct {
	mu sync.Mutex

	request  func(fakeCall) *ValidationError
	response func(fakeCall) *ValidationError

	calls      []fakeCall
	live       map[*cValidationError]*arena
	frees      int
	badFrees   int
	serialized [][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{live: map[*cValidationError]*arena{}}
}

var fakeStat = []byte("JSight fake engine 1.0\x00")

func (f *fakeEngine) library() *fakeLibrary {
	return &fakeLibrary{funcs: map[string]any{
		SymbolStat: func() *byte {
			return &fakeStat[0]
		},
		SymbolValidateRequest: func(spec, method, uri *byte, headers **cHeader, body *byte) *cValidationError {
			call := readCall(spec, method, uri, headers, body)
			return f.answer(call, f.request)
		},
		SymbolValidateResponse: func(spec, method, uri *byte, status int32, headers **cHeader, body *byte) *cValidationError {
			call := readCall(spec, method, uri, headers, body)
			call.status = int(status)
			return f.answer(call, f.response)
		},
		SymbolFreeError: func(ce *cValidationError) {
			f.free(ce)
		},
		SymbolSerializeError: func(format *byte, ce *cValidationError) *byte {
			if unix.BytePtrToString(format) != "json" {
				return nil
			}
			verr, err := decodeError(ce)
			if err != nil {
				return nil
			}
			data, err := json.Marshal(verr)
			if err != nil {
				return nil
			}
			data = append(data, 0)
			f.mu.Lock()
			f.serialized = append(f.serialized, data)
			f.mu.Unlock()
			return &data[0]
		},
	}}
}

func (f *fakeEngine) answer(call fakeCall, verdict func(fakeCall) *ValidationError) *cValidationError {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if verdict == nil {
		return nil
	}
	verr := verdict(call)
	if verr == nil {
		return nil
	}
	a := &arena{}
	ce, err := a.validationError(verr)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.live[ce] = a
	f.mu.Unlock()
	return ce
}

func (f *fakeEngine) free(ce *cValidationError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.live[ce]
	if !ok {
		f.badFrees++
		return
	}
	poison(ce)
	a.release()
	delete(f.live, ce)
	f.frees++
}

func (f *fakeEngine) snapshot() (calls []fakeCall, live, frees, badFrees int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...), len(f.live), f.frees, f.badFrees
}

func readCall(spec, method, uri *byte, headers **cHeader, body *byte) fakeCall {
	call := fakeCall{
		spec:   unix.BytePtrToString(spec),
		method: unix.BytePtrToString(method),
		uri:    unix.BytePtrToString(uri),
		body:   unix.BytePtrToString(body),
	}
	for p := headers; ; p = (**cHeader)(unsafe.Add(unsafe.Pointer(p), unsafe.Sizeof(*p))) {
		call.entries++
		if *p == nil {
			break
		}
		call.headers = append(call.headers, Header{
			Name:  unix.BytePtrToString((*p).name),
			Value: unix.BytePtrToString((*p).value),
		})
	}
	return call
}

func poison(ce *cValidationError) {
	for _, p := range []*byte{ce.reportedBy, ce.kind, ce.title, ce.detail} {
		poisonString(p)
	}
	if ce.position != nil {
		poisonString(ce.position.filepath)
		for _, n := range []*int32{ce.position.index, ce.position.line, ce.position.col} {
			if n != nil {
				*n = -1
			}
		}
	}
	if ce.trace != nil {
		for p := ce.trace; *p != nil; p = (**byte)(unsafe.Add(unsafe.Pointer(p), unsafe.Sizeof(*p))) {
			poisonString(*p)
		}
	}
	*ce = cValidationError{code: -1}
}

func poisonString(p *byte) {
	for ; p != nil && *p != 0; p = (*byte)(unsafe.Add(unsafe.Pointer(p), 1)) {
		*p = 'X'
	}
}

func openFake(t *testing.T, f *fakeEngine, opts ...Option) *Engine {
	t.Helper()
	loader := &fakeLoader{newLib: f.library}
	engine, err := Open("libjsight.so", append([]Option{WithLoader(loader)}, opts...)...)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func ptr[T any](v T) *T {
	return &v
}

var errFakeLoad = errors.New("cannot open shared object file: No such file or directory")
