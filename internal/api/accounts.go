// ABOUTME: Account handlers: registration, password login, introspection, and admin user management
// ABOUTME: Deletion is soft (deactivate and revoke) unless hard=true erases the account

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/execution"
	"github.com/2389/toolgate/internal/store"
)

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	IsActive  bool       `json:"is_active"`
	IsAdmin   bool       `json:"is_admin"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		IsActive:  u.IsActive,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if a.disableRegistration {
		writeError(w, execution.KindAuthorization, "registration is disabled")
		return
	}

	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if errs := auth.ValidateRegistration(req.Email, req.Password); len(errs) > 0 {
		writeError(w, execution.KindValidation, "invalid registration", fieldsFromAuth(errs)...)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error("hashing password", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	u := &store.User{Email: req.Email, PasswordHash: hash, IsActive: true}
	if err := a.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			writeError(w, execution.KindConflict, "email already registered")
			return
		}
		a.logger.Error("creating user", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	a.logger.Info("user registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, userResponse(u))
}

// handleToken implements the OAuth2 password grant form: username and password.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		invalid(w, "body", "expected a form-encoded body")
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")

	var missing []string
	if email == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		errs := make([]auth.FieldError, len(missing))
		for i, f := range missing {
			errs[i] = auth.FieldError{Field: f, Message: "field required"}
		}
		writeError(w, execution.KindValidation, "invalid login", fieldsFromAuth(errs)...)
		return
	}

	u, err := a.store.GetUserByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.logger.Error("loading user for login", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	if u == nil || auth.CheckPassword(u.PasswordHash, password) != nil {
		writeError(w, execution.KindAuthentication, auth.ErrBadCredentials.Error())
		return
	}
	if !u.IsActive {
		writeError(w, execution.KindAuthorization, "inactive user")
		return
	}

	token, err := a.sessions.Generate(u.ID, a.sessionTTL)
	if err != nil {
		a.logger.Error("issuing session token", "user_id", u.ID, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	a.logger.Info("user logged in", "user_id", u.ID)
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(a.sessionTTL.Seconds()),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.store.GetUser(r.Context(), caller(r).UserID)
	if err != nil {
		a.logger.Error("loading current user", "error", err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse(u))
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "authenticated",
		"user":   caller(r).Email,
	})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(r, "skip", 0)
	if !ok {
		invalid(w, "skip", "must be a non-negative integer")
		return
	}
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		invalid(w, "limit", "must be a non-negative integer")
		return
	}

	users, err := a.store.ListUsers(r.Context(), skip, limit)
	if err != nil {
		a.logger.Error("listing users", "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateUserRequest is the body of PATCH /users/{id}. Absent fields are left unchanged.
type UpdateUserRequest struct {
	IsActive *bool `json:"is_active"`
	IsAdmin  *bool `json:"is_admin"`
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryBool parses an optional boolean query parameter into dst.
func queryBool(r *http.Request, name string, dst **bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	*dst = &b
	return true
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}

	var req UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.IsActive == nil && !queryBool(r, "is_active", &req.IsActive) {
		invalid(w, "is_active", "must be a boolean")
		return
	}
	if req.IsAdmin == nil && !queryBool(r, "is_admin", &req.IsAdmin) {
		invalid(w, "is_admin", "must be a boolean")
		return
	}
	if req.IsActive == nil && req.IsAdmin == nil {
		invalid(w, "body", "nothing to update")
		return
	}

	// Deactivation also drops credentials and MCP tokens, in the same transaction.
	ctx := r.Context()
	u, err := a.store.UpdateUserFlags(ctx, id, store.UserFlags{IsActive: req.IsActive, IsAdmin: req.IsAdmin})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, execution.KindNotFound, "user not found")
		return
	}
	if err != nil {
		a.logger.Error("updating user", "user_id", id, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	detail := map[string]any{}
	if req.IsActive != nil {
		detail["is_active"] = *req.IsActive
	}
	if req.IsAdmin != nil {
		detail["is_admin"] = *req.IsAdmin
	}
	actor := caller(r).UserID
	a.audit(ctx, actor, store.AuditUpdateUser, "user", strconv.FormatInt(id, 10), detail)
	a.logger.Info("user updated", "user_id", id, "actor_id", actor)

	writeJSON(w, http.StatusOK, userResponse(u))
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		invalid(w, "id", "must be a positive integer")
		return
	}
	actor := caller(r).UserID
	if id == actor {
		writeJSON(w, http.StatusBadRequest, map[string]ErrorBody{
			"error": {Kind: execution.KindValidation, Message: "admins cannot delete their own account"},
		})
		return
	}

	hard := r.URL.Query().Get("hard") == "true"
	ctx := r.Context()

	var (
		err    error
		action = store.AuditDeactivateUser
		status = "deactivated"
	)
	if hard {
		err = a.store.DeleteUser(ctx, id)
		action, status = store.AuditDeleteUser, "deleted"
	} else {
		err = a.store.DeactivateUser(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, execution.KindNotFound, "user not found")
		return
	}
	if err != nil {
		a.logger.Error("deleting user", "user_id", id, "hard", hard, "error", err)
		writeError(w, execution.KindInternal, "internal error")
		return
	}

	a.audit(ctx, actor, action, "user", strconv.FormatInt(id, 10), nil)
	a.logger.Info("user removed", "user_id", id, "actor_id", actor, "hard", hard)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}
