// Package jsight binds the JSight validation engine (libjsight.so).
//
// The engine is a pre-built shared library exposing five C entry points. This
// package is the only code that touches them: it loads the library, resolves the
// symbols, converts Go values to the C layouts the engine expects and copies
// results back into Go memory before handing them to the engine's deallocator.
//
// # Usage
//
//	engine, err := jsight.Init("/opt/lib/libjsight.so")
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	violation, err := engine.ValidateRequest(ctx, jsight.Request{
//	    SpecPath: "orders.jst",
//	    Method:   "GET",
//	    URI:      "/orders",
//	})
//
// A nil violation and a nil error mean the request matches the contract. A
// non-nil violation is an ordinary outcome, not a failure of the binding.
//
// # Ownership
//
// Strings and header arrays built for a call are Go memory pinned for the
// duration of that call only. Error structures returned by the engine are copied
// and released through freeValidationError exactly once. Strings returned by
// JSightStat and JSightSerializeError are copied and never released: the engine
// exports no deallocator for them.
package jsight
