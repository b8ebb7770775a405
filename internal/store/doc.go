// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with multiple specialized
// interfaces:
//
//   - UserStore: Accounts with active/admin flags
//   - CredentialStore: Encrypted per-(user, app) credentials
//   - ToolStore: Stable numeric tool ids and per-user enablement
//   - TokenStore: MCP access tokens (hashed, revocable, rotatable)
//   - ExecutionLogStore: Append-only execution records with a mutable rating
//   - AuditStore: Account and access-control changes
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Invariants
//
//   - One credential per (user, app): UpsertCredential replaces in a single statement.
//   - One unrevoked MCP token per user: enforced by a partial unique index, and
//     RotateMCPToken revokes and inserts inside one transaction.
//   - Execution logs are written once; only rating and rated_at change afterwards,
//     through a conditional UPDATE that also checks ownership.
//   - Deactivating a user drops its credentials and revokes its MCP tokens.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;     -- file databases only
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Migrations
//
// Migrations are embedded SQL files in internal/store/migrations/ and are
// applied with goose on every open.
package store
