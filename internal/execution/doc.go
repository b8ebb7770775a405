// Package execution is the request-handling core for tool calls.
//
// A call is checked in this order, and the first failure decides the error kind:
//
//  1. resolve the tool in the registry (unknown_tool)
//  2. fetch the caller's credential when the tool requires auth (not_connected)
//  3. check the caller's enablement for the tool (tool_disabled)
//  4. dispatch through the packs.Router (adapter_error, timeout, cancelled, validation_error)
//
// Whatever happens, one execution log with a terminal outcome is appended.
// The log write detaches from the caller's context so a disconnect still
// records a cancelled outcome.
//
// Errors returned by Service are *Error values carrying a Kind, an HTTP status,
// optional field errors, and the id of the log that recorded the attempt.
package execution
