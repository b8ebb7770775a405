// Package packs holds the tool catalog and the dispatcher that calls adapters.
//
// # Registry
//
// Each app adapter contributes a set of tools at startup. The Registry gives
// every (app, tool) pair a stable numeric id through an IDAllocator (the
// SQLite store in production) and publishes an immutable snapshot. Lookups
// load the current snapshot without locking; Register and Unregister build a
// new snapshot under a writer mutex and swap it in. Re-registering an app
// replaces its tool set.
//
// Tools can be found by (app, name), by id, or guessed from free text:
//
//	matches := registry.Guess("send a message to a channel", 5)
//
// Guess is deterministic. Name terms weigh twice description terms, and
// equal scores are ordered by lower id.
//
// # Router
//
// Router.Dispatch runs one adapter call with:
//
//   - a timeout (tool-specific, else the router default)
//   - a per-app semaphore bounding in-flight calls
//   - an optional per-app token bucket for upstream rate limits
//
// Timeouts and cancellations surface as errors wrapping
// context.DeadlineExceeded and context.Canceled.
//
// # Built-in app
//
// The "toolgate" app runs in-process and exposes list_apps and guess_tools so
// MCP clients can discover the catalog.
package packs
