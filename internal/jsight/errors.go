package jsight

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by Init once the process-wide engine exists.
	ErrAlreadyInitialized = errors.New("jsight: engine already initialized")
	// ErrClosed is returned by calls on an engine after Close.
	ErrClosed = errors.New("jsight: engine closed")
)

// LibraryLoadError reports a shared object that could not be loaded.
type LibraryLoadError struct {
	Path string
	Err  error
}

func (e *LibraryLoadError) Error() string {
	return fmt.Sprintf("jsight: load library %s: %v", e.Path, e.Err)
}

func (e *LibraryLoadError) Unwrap() error { return e.Err }

// SymbolResolutionError names an entry point missing from the loaded library.
type SymbolResolutionError struct {
	Symbol string
	Err    error
}

func (e *SymbolResolutionError) Error() string {
	return fmt.Sprintf("jsight: resolve symbol %s: %v", e.Symbol, e.Err)
}

func (e *SymbolResolutionError) Unwrap() error { return e.Err }

// EncodingError reports text that cannot cross the C boundary: an embedded NUL
// on the way in, or invalid UTF-8 on the way out.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("jsight: %s: %s", e.Field, e.Reason)
}

// ForeignCallError reports an entry point that returned no usable result.
type ForeignCallError struct {
	Symbol string
	Reason string
}

func (e *ForeignCallError) Error() string {
	return fmt.Sprintf("jsight: %s: %s", e.Symbol, e.Reason)
}
