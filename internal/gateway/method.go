package gateway

import "net/http"

// MethodUnknown is sent to the engine for methods outside the modelled set.
const MethodUnknown = "UNKNOWN"

// NormalizeMethod maps an HTTP method to the token the engine expects.
func NormalizeMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return method
	default:
		return MethodUnknown
	}
}
