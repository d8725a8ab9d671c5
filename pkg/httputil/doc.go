// Package httputil provides JSON response writers, request parsing and
// generic HTTP middleware.
//
// Plain errors are written as {"error": "..."}. Limit denials are written as
// their structured payload:
//
//	httputil.WriteTooManyRequests(w, retryAfter, result.Exceeded) // 429 + Retry-After
//	httputil.WritePaymentRequired(w, result.Exceeded)             // 402
//
// Request parsing:
//
//	var req RecordUsageRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
package httputil
