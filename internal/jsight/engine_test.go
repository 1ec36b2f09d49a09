package jsight

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func schemaMismatch(fakeCall) *ValidationError {
	return &ValidationError{
		ReportedBy: "HTTP Body",
		Type:       "json_error",
		Code:       301,
		Title:      "schema mismatch",
		Detail:     "The data type does not match the schema",
		Position:   &Position{Filepath: ptr("orders.jst"), Line: ptr(4)},
		Trace:      []string{"root", "orders", "price"},
	}
}

func TestStat(t *testing.T) {
	engine := openFake(t, newFakeEngine())

	stat, err := engine.Stat(context.Background())
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if stat != "JSight fake engine 1.0" {
		t.Fatalf("unexpected stat %q", stat)
	}
}

func TestValidateRequestValid(t *testing.T) {
	f := newFakeEngine()
	engine := openFake(t, f)

	verr, err := engine.ValidateRequest(context.Background(), Request{
		SpecPath: "orders.jst",
		Method:   "GET",
		URI:      "/orders?limit=10",
		Headers:  []Header{{Name: "Accept", Value: "application/json"}, {Name: "Host", Value: "example.com"}},
	})
	if err != nil {
		t.Fatalf("ValidateRequest error: %v", err)
	}
	if verr != nil {
		t.Fatalf("expected no violation, got %+v", verr)
	}

	calls, _, frees, _ := f.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.spec != "orders.jst" || call.method != "GET" || call.uri != "/orders?limit=10" || call.body != "" {
		t.Fatalf("unexpected call %+v", call)
	}
	if call.entries != 3 || len(call.headers) != 2 {
		t.Fatalf("expected 2 headers and a sentinel, got %d entries", call.entries)
	}
	if frees != 0 {
		t.Fatalf("expected no frees for a valid request, got %d", frees)
	}
}

func TestValidateRequestNoHeadersStillTerminated(t *testing.T) {
	f := newFakeEngine()
	engine := openFake(t, f)

	if _, err := engine.ValidateRequest(context.Background(), Request{Method: "GET", URI: "/"}); err != nil {
		t.Fatalf("ValidateRequest error: %v", err)
	}
	calls, _, _, _ := f.snapshot()
	if calls[0].entries != 1 {
		t.Fatalf("expected only the sentinel, got %d entries", calls[0].entries)
	}
}

func TestViolationSurvivesFree(t *testing.T) {
	f := newFakeEngine()
	f.request = schemaMismatch
	f.response = func(fakeCall) *ValidationError {
		return &ValidationError{ReportedBy: "HTTP Response", Type: "http_error", Code: 103, Title: "status mismatch", Trace: []string{}}
	}
	engine := openFake(t, f)
	ctx := context.Background()

	var kept []*ValidationError
	for i := 0; i < 25; i++ {
		verr, err := engine.ValidateRequest(ctx, Request{Method: "POST", URI: "/orders", Body: []byte(`{"price":"x"}`)})
		if err != nil {
			t.Fatalf("ValidateRequest error: %v", err)
		}
		kept = append(kept, verr)

		verr, err = engine.ValidateResponse(ctx, Response{Method: "GET", URI: "/orders", StatusCode: 200})
		if err != nil {
			t.Fatalf("ValidateResponse error: %v", err)
		}
		kept = append(kept, verr)
	}

	_, live, frees, badFrees := f.snapshot()
	if live != 0 || frees != 50 || badFrees != 0 {
		t.Fatalf("expected 50 clean frees, got live=%d frees=%d bad=%d", live, frees, badFrees)
	}

	for i, verr := range kept {
		if i%2 == 1 {
			if verr.Title != "status mismatch" || verr.Code != 103 || verr.Position != nil {
				t.Fatalf("response violation %d corrupted: %+v", i, verr)
			}
			continue
		}
		if verr.Title != "schema mismatch" || verr.ReportedBy != "HTTP Body" || verr.Code != 301 {
			t.Fatalf("request violation %d corrupted: %+v", i, verr)
		}
		if strings.Join(verr.Trace, "/") != "root/orders/price" {
			t.Fatalf("trace %d corrupted: %v", i, verr.Trace)
		}
		if verr.Position == nil || *verr.Position.Filepath != "orders.jst" || *verr.Position.Line != 4 {
			t.Fatalf("position %d corrupted: %+v", i, verr.Position)
		}
	}
}

func TestValidateResponsePassesStatus(t *testing.T) {
	f := newFakeEngine()
	engine := openFake(t, f)

	_, err := engine.ValidateResponse(context.Background(), Response{
		SpecPath:   "orders.jst",
		Method:     "POST",
		URI:        "/orders",
		StatusCode: 201,
		Headers:    []Header{{Name: "Content-Type", Value: "application/json"}},
		Body:       []byte(`{"id":1}`),
	})
	if err != nil {
		t.Fatalf("ValidateResponse error: %v", err)
	}
	calls, _, _, _ := f.snapshot()
	if calls[0].status != 201 || calls[0].body != `{"id":1}` || calls[0].entries != 2 {
		t.Fatalf("unexpected call %+v", calls[0])
	}
}

func TestValidateRequestEncodingError(t *testing.T) {
	f := newFakeEngine()
	engine := openFake(t, f)

	_, err := engine.ValidateRequest(context.Background(), Request{Method: "GET", URI: "/", Body: []byte("a\x00b")})
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if encErr.Field != "body" {
		t.Fatalf("expected body field, got %q", encErr.Field)
	}
	calls, _, _, _ := f.snapshot()
	if len(calls) != 0 {
		t.Fatalf("expected the engine not to be called, got %d calls", len(calls))
	}
}

func TestSerializeErrorOmitsAbsentPosition(t *testing.T) {
	engine := openFake(t, newFakeEngine())

	out, err := engine.SerializeError(context.Background(), "json", &ValidationError{
		ReportedBy: "HTTP Response",
		Type:       "http_error",
		Code:       103,
		Title:      "status mismatch",
		Trace:      []string{},
	})
	if err != nil {
		t.Fatalf("SerializeError error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if _, ok := doc["position"]; ok {
		t.Fatalf("expected no position key, got %s", out)
	}
	if doc["title"] != "status mismatch" {
		t.Fatalf("unexpected title in %s", out)
	}
}

func TestSerializeErrorNullResult(t *testing.T) {
	engine := openFake(t, newFakeEngine())

	_, err := engine.SerializeError(context.Background(), "yaml", &ValidationError{Title: "x"})
	var callErr *ForeignCallError
	if !errors.As(err, &callErr) || callErr.Symbol != SymbolSerializeError {
		t.Fatalf("expected ForeignCallError for %s, got %v", SymbolSerializeError, err)
	}
}

func TestClosedEngine(t *testing.T) {
	f := newFakeEngine()
	loader := &fakeLoader{newLib: f.library}
	engine, err := Open("libjsight.so", WithLoader(loader))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if n := loader.loaded[0].closes.Load(); n != 1 {
		t.Fatalf("expected library closed once, got %d", n)
	}
	if _, err := engine.Stat(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMaxConcurrentCallsHonoursContext(t *testing.T) {
	f := newFakeEngine()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.request = func(fakeCall) *ValidationError {
		close(entered)
		<-unblock
		return nil
	}
	engine := openFake(t, f, WithMaxConcurrentCalls(1))

	done := make(chan error, 1)
	go func() {
		_, err := engine.ValidateRequest(context.Background(), Request{Method: "GET", URI: "/"})
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := engine.Stat(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while the slot is taken, got %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("blocked call error: %v", err)
	}
	if _, err := engine.Stat(context.Background()); err != nil {
		t.Fatalf("Stat after release error: %v", err)
	}
}

func TestCloseWaitsForCallInFlight(t *testing.T) {
	f := newFakeEngine()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.request = func(fakeCall) *ValidationError {
		close(entered)
		<-unblock
		return nil
	}
	loader := &fakeLoader{newLib: f.library}
	engine, err := Open("libjsight.so", WithLoader(loader))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	callDone := make(chan error, 1)
	go func() {
		_, err := engine.ValidateRequest(context.Background(), Request{Method: "GET", URI: "/"})
		callDone <- err
	}()
	<-entered

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- engine.Close()
	}()

	select {
	case <-closeDone:
		t.Fatal("Close returned while a foreign call was running")
	case <-time.After(50 * time.Millisecond):
	}
	if n := loader.loaded[0].closes.Load(); n != 0 {
		t.Fatalf("library unloaded under a running call, closes=%d", n)
	}

	close(unblock)
	if err := <-callDone; err != nil {
		t.Fatalf("in-flight call error: %v", err)
	}
	select {
	case err := <-closeDone:
		if err != nil {
			t.Fatalf("Close error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the call finished")
	}
	if n := loader.loaded[0].closes.Load(); n != 1 {
		t.Fatalf("expected library closed once, got %d", n)
	}
	if _, err := engine.ValidateRequest(context.Background(), Request{Method: "GET", URI: "/"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestUndecodableViolationIsForeignCallError(t *testing.T) {
	f := newFakeEngine()
	f.request = func(fakeCall) *ValidationError {
		return &ValidationError{Title: "bad \xff title", Trace: []string{}}
	}
	engine := openFake(t, f)

	verr, err := engine.ValidateRequest(context.Background(), Request{Method: "GET", URI: "/"})
	if verr != nil {
		t.Fatalf("expected no violation, got %+v", verr)
	}
	var callErr *ForeignCallError
	if !errors.As(err, &callErr) || callErr.Symbol != SymbolValidateRequest {
		t.Fatalf("expected ForeignCallError for %s, got %v", SymbolValidateRequest, err)
	}
	var encErr *EncodingError
	if errors.As(err, &encErr) {
		t.Fatalf("undecodable result reported as caller encoding error: %v", err)
	}

	_, live, frees, badFrees := f.snapshot()
	if live != 0 || frees != 1 || badFrees != 0 {
		t.Fatalf("expected one clean free, live=%d frees=%d bad=%d", live, frees, badFrees)
	}
}
