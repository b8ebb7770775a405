// Package mcp implements the Model Context Protocol server and the MCP
// access tokens that authorize it.
//
// # Overview
//
// Each user owns at most one active MCP token. The token is embedded in a
// URL the user pastes into an MCP client:
//
//	https://gate.example.com/mcp/<token>
//	https://gate.example.com/mcp?token=<token>
//
// A Bearer header carrying either the MCP token or a session JWT is
// accepted as well.
//
// # Tokens
//
// TokenService issues, rotates, revokes, and validates tokens. Only the
// SHA-256 hash and an 8-character prefix are stored in clear; the raw value
// is sealed with the vault cipher so Current can hand the same URL back.
// Regenerate revokes the old token and inserts the new one in a single
// transaction, so no moment exists where both validate.
//
// # Protocol
//
// The server speaks JSON-RPC 2.0 over Streamable HTTP (POST only, no
// server-initiated SSE):
//
//   - initialize creates a session bound to the authenticated user
//   - tools/list returns the user's currently enabled tools as "<app>.<tool>"
//   - tools/call runs a tool through the execution service
//   - ping answers with an empty result
//
// Every request is authenticated again, so revocation, deactivation, and
// enablement changes apply to open sessions immediately.
//
// # Errors
//
// Failed tool calls come back as results with isError set. The text content
// is a JSON object:
//
//	{"error": {"kind": "tool_disabled", "message": "...", "log_id": 42}}
package mcp
