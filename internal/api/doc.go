// Package api serves the toolgate HTTP API under /api/v1.
//
// Authentication is a bearer token on every route except registration,
// login, and health. Either a session JWT from POST /token or an MCP token
// is accepted; routes that change credentials, enablement, MCP URLs, or
// accounts require a session token, and account administration also
// requires the admin flag.
//
// Errors use one envelope with a stable kind:
//
//	{"error": {"kind": "validation_error", "message": "...", "fields": [{"field": "email", "message": "..."}]}}
//
// Execution endpoints answer with the taxonomy status and
// {"success": bool, "log_id": N, "result": ..., "error": {...}}.
package api
