package jsight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Option configures Open and Init.
type Option func(*options)

type options struct {
	loader   Loader
	maxCalls int64
}

// WithLoader replaces DefaultLoader.
func WithLoader(l Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithMaxConcurrentCalls bounds the number of foreign calls in flight. Callers
// over the bound wait, or give up when their context ends. Zero means no bound.
func WithMaxConcurrentCalls(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxCalls = int64(n)
		}
	}
}

// Engine is a loaded libjsight with all entry points resolved. Its function
// table never changes after Open, so an Engine is safe for concurrent use.
type Engine struct {
	lib   Library
	ep    entryPoints
	calls *semaphore.Weighted

	// inflight is read-held for the duration of every foreign call and
	// write-held by Close while it unloads the library.
	inflight sync.RWMutex
	closed   atomic.Bool
}

// Open loads the library at path and resolves every entry point. Nothing stays
// loaded when Open fails.
func Open(path string, opts ...Option) (*Engine, error) {
	o := options{loader: DefaultLoader}
	for _, opt := range opts {
		opt(&o)
	}

	lib, err := o.loader.Load(path)
	if err != nil {
		return nil, &LibraryLoadError{Path: path, Err: err}
	}
	ep, err := bind(lib)
	if err != nil {
		if cerr := lib.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return newEngine(lib, ep, o.maxCalls), nil
}

func newEngine(lib Library, ep entryPoints, maxCalls int64) *Engine {
	e := &Engine{lib: lib, ep: ep}
	if maxCalls > 0 {
		e.calls = semaphore.NewWeighted(maxCalls)
	}
	return e
}

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Init opens the process-wide engine. Only the first successful call loads a
// library; later calls return ErrAlreadyInitialized. A failed Init can be retried.
func Init(path string, opts ...Option) (*Engine, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultEngine != nil {
		return nil, ErrAlreadyInitialized
	}
	e, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	defaultEngine = e
	return e, nil
}

// Default returns the engine opened by Init, if it is still open.
func Default() (*Engine, bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultEngine == nil || defaultEngine.closed.Load() {
		return nil, false
	}
	return defaultEngine, true
}

// Close unloads the library once every call already in flight has returned.
// Calls that start afterwards fail with ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.inflight.Lock()
	defer e.inflight.Unlock()
	return e.lib.Close()
}

// Stat returns the engine's status string.
func (e *Engine) Stat(ctx context.Context) (string, error) {
	leave, err := e.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()

	p := e.ep.stat()
	if p == nil {
		return "", &ForeignCallError{Symbol: SymbolStat, Reason: "returned null"}
	}
	return goString("stat", p)
}

// ValidateRequest checks one request against the spec at req.SpecPath. It
// returns a nil violation when the request is valid.
func (e *Engine) ValidateRequest(ctx context.Context, req Request) (*ValidationError, error) {
	leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	var a arena
	defer a.release()

	args, err := a.message(req.SpecPath, req.Method, req.URI, req.Headers, req.Body)
	if err != nil {
		return nil, err
	}
	return e.take(SymbolValidateRequest, e.ep.validateRequest(args.spec, args.method, args.uri, &args.headers[0], args.body))
}

// ValidateResponse checks one response produced for resp.Method and resp.URI.
func (e *Engine) ValidateResponse(ctx context.Context, resp Response) (*ValidationError, error) {
	leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	status, err := cInt("status code", resp.StatusCode)
	if err != nil {
		return nil, err
	}

	var a arena
	defer a.release()

	args, err := a.message(resp.SpecPath, resp.Method, resp.URI, resp.Headers, resp.Body)
	if err != nil {
		return nil, err
	}
	return e.take(SymbolValidateResponse, e.ep.validateResponse(args.spec, args.method, args.uri, status, &args.headers[0], args.body))
}

// SerializeError renders verr in the given notation ("json" for JSight).
func (e *Engine) SerializeError(ctx context.Context, format string, verr *ValidationError) (string, error) {
	if verr == nil {
		return "", errors.New("jsight: nil validation error")
	}
	leave, err := e.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()

	var a arena
	defer a.release()

	cformat, err := a.cString("format", format)
	if err != nil {
		return "", err
	}
	ce, err := a.validationError(verr)
	if err != nil {
		return "", err
	}

	p := e.ep.serializeError(cformat, ce)
	if p == nil {
		return "", &ForeignCallError{Symbol: SymbolSerializeError, Reason: "returned null"}
	}
	// The result belongs to the engine; copy it and leave it alone.
	return goString("serialized error", p)
}

// enter admits one foreign call. The returned func must be called when the
// call has returned.
func (e *Engine) enter(ctx context.Context) (func(), error) {
	e.inflight.RLock()
	if e.closed.Load() {
		e.inflight.RUnlock()
		return nil, ErrClosed
	}
	if e.calls == nil {
		return e.inflight.RUnlock, nil
	}
	if err := e.calls.Acquire(ctx, 1); err != nil {
		e.inflight.RUnlock()
		return nil, err
	}
	return func() {
		e.calls.Release(1)
		e.inflight.RUnlock()
	}, nil
}

// take is the only code that reads an error returned by the engine. It copies
// ce into Go memory and then frees it exactly once; ce is dead afterwards. An
// unreadable result is a ForeignCallError, never an EncodingError: encoding
// errors describe caller input.
func (e *Engine) take(symbol string, ce *cValidationError) (*ValidationError, error) {
	if ce == nil {
		return nil, nil
	}
	verr, err := decodeError(ce)
	e.ep.freeError(ce)
	if err != nil {
		return nil, &ForeignCallError{Symbol: symbol, Reason: "undecodable result: " + err.Error()}
	}
	return verr, nil
}

type messageArgs struct {
	spec    *byte
	method  *byte
	uri     *byte
	headers []*cHeader
	body    *byte
}

func (a *arena) message(spec, method, uri string, headers []Header, body []byte) (messageArgs, error) {
	var args messageArgs
	var err error
	if args.spec, err = a.cString("spec path", spec); err != nil {
		return messageArgs{}, err
	}
	if args.method, err = a.cString("method", method); err != nil {
		return messageArgs{}, err
	}
	if args.uri, err = a.cString("uri", uri); err != nil {
		return messageArgs{}, err
	}
	if args.headers, err = a.headers(headers); err != nil {
		return messageArgs{}, err
	}
	if args.body, err = a.cString("body", string(body)); err != nil {
		return messageArgs{}, err
	}
	return args, nil
}
