// Package auth provides authentication and authorization for the gateway.
//
// # Authentication Methods
//
//   - Session tokens: users log in with email and password and receive an HS256 JWT
//     whose subject is the numeric user id. Tokens are short-lived (auth.session_ttl).
//
//   - MCP tokens: opaque hex tokens embedded in a user's MCP URL. They are validated
//     by the MCP token service through the MCPTokenValidator interface and are
//     revocable independently of the user's password session.
//
// A bearer value with three dot-separated segments is treated as a session token;
// anything else goes to the MCP validator.
//
// # Authorization
//
// Every authenticated request loads the user and rejects inactive accounts with 403.
// RequireAdminHTTP gates admin routes on the user's admin flag. RequireSession keeps
// account-changing routes out of reach of MCP URL holders.
//
// # Passwords
//
// Passwords are stored as bcrypt hashes (golang.org/x/crypto/bcrypt).
package auth
