// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, "Operation completed")
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateModuleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	id, err := httputil.ParsePathInt64(r, "id")
//	name, err := httputil.ParsePathString(r, "name")
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 20)
//	offset, err := httputil.ParseQueryInt(r, "offset", 0)
//	recursive, err := httputil.ParseQueryBool(r, "recursive", false)
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, req.Name, "name") {
//		return
//	}
//	if !httputil.RequirePositive(w, int64(limit), "limit") {
//		return
//	}
//
// # Middleware
//
//	publish.Use(httputil.MaxBytesMiddleware(256 * 1024 * 1024))
//	admin.Use(httputil.ContentTypeMiddleware)
//
// # Related Packages
//
//   - pkg/api: builds the rest of the middleware chain (recovery,
//     request ID, structured logging, auth) directly against
//     observability.Logger and contextkeys, and writes errors through
//     this package
package httputil
