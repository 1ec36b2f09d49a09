package jsight

// Exported symbol names of libjsight.so.
const (
	SymbolStat             = "JSightStat"
	SymbolValidateRequest  = "JSightValidateHttpRequest"
	SymbolValidateResponse = "JSightValidateHttpResponse"
	SymbolFreeError        = "freeValidationError"
	SymbolSerializeError   = "JSightSerializeError"
)

// The structs below mirror the C declarations of libjsight.h on LP64 targets.
// Go inserts the same padding after cValidationError.code as a C compiler would.

// typedef struct { char* name; char* value; } Header;
type cHeader struct {
	name  *byte
	value *byte
}

// typedef struct { char* filepath; int* index; int* line; int* col; } ErrorPosition;
type cPosition struct {
	filepath *byte
	index    *int32
	line     *int32
	col      *int32
}

//	typedef struct {
//	    char* reported_by; char* type; int code; char* title; char* detail;
//	    ErrorPosition* position; char** trace;
//	} ValidationError;
type cValidationError struct {
	reportedBy *byte
	kind       *byte
	code       int32
	title      *byte
	detail     *byte
	position   *cPosition
	trace      **byte
}

// entryPoints is the resolved function table. It is written once by bind and
// only read afterwards.
type entryPoints struct {
	stat             func() *byte
	validateRequest  func(spec, method, uri *byte, headers **cHeader, body *byte) *cValidationError
	validateResponse func(spec, method, uri *byte, status int32, headers **cHeader, body *byte) *cValidationError
	freeError        func(verr *cValidationError)
	serializeError   func(format *byte, verr *cValidationError) *byte
}

func bind(lib Library) (entryPoints, error) {
	var ep entryPoints
	symbols := []struct {
		name string
		fptr any
	}{
		{SymbolStat, &ep.stat},
		{SymbolValidateRequest, &ep.validateRequest},
		{SymbolValidateResponse, &ep.validateResponse},
		{SymbolFreeError, &ep.freeError},
		{SymbolSerializeError, &ep.serializeError},
	}
	for _, sym := range symbols {
		if err := lib.Bind(sym.name, sym.fptr); err != nil {
			return entryPoints{}, &SymbolResolutionError{Symbol: sym.name, Err: err}
		}
	}
	return ep, nil
}
