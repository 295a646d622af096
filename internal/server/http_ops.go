package server

import (
	"net/http"

	"github.com/Krajiyah/firebase-admin-util/internal/auth"
	"github.com/Krajiyah/firebase-admin-util/internal/integrity"
	"github.com/Krajiyah/firebase-admin-util/internal/push"
)

// handleIntegrity handles GET /v1/integrity. ?links=false skips the HTTP
// probes of link fields.
func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	opts := append([]integrity.Option{integrity.WithLogger(s.logger)}, s.integrity...)
	if r.URL.Query().Get("links") == "false" {
		opts = append(opts, integrity.WithoutLinkChecks())
	}
	report, err := integrity.New(s.reg, opts...).Run(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type pushInput struct {
	Kind   push.TargetKind `json:"kind"`
	Target string          `json:"target"`
	Title  string          `json:"title"`
	Body   string          `json:"body"`
	Data   map[string]any  `json:"data"`
	Silent bool            `json:"silent"`
}

// handlePush handles POST /v1/push.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeError(w, http.StatusNotImplemented, "push is not configured")
		return
	}
	var in pushInput
	if !decodeBody(w, r, &in) {
		return
	}

	ctx := r.Context()
	var (
		msg *push.Message
		err error
	)
	switch {
	case in.Kind == push.TargetDevice && in.Silent:
		msg, err = s.push.SendSilentToDevice(ctx, in.Target, in.Data)
	case in.Kind == push.TargetDevice:
		msg, err = s.push.SendToDevice(ctx, in.Target, in.Title, in.Body, in.Data)
	case in.Kind == push.TargetTopic && in.Silent:
		msg, err = s.push.SendSilentToTopic(ctx, in.Target, in.Data)
	case in.Kind == push.TargetTopic:
		msg, err = s.push.SendToTopic(ctx, in.Target, in.Title, in.Body, in.Data)
	default:
		writeError(w, http.StatusBadRequest, `kind must be "device" or "topic"`)
		return
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

type credentialsInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginOutput struct {
	Token   string        `json:"token"`
	Account *auth.Account `json:"account"`
}

// handleLogin handles POST /v1/auth/login and returns a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil || s.tokens == nil {
		writeError(w, http.StatusNotImplemented, "login is not configured")
		return
	}
	var in credentialsInput
	if !decodeBody(w, r, &in) {
		return
	}
	a, err := s.accounts.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		// Do not reveal whether the email exists.
		if statusFor(err) == http.StatusNotFound {
			err = auth.ErrWrongPassword
		}
		s.writeErr(w, err)
		return
	}
	token, err := s.tokens.Issue(a)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginOutput{Token: token, Account: a})
}

// handleCreateUser handles POST /v1/auth/users.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not configured")
		return
	}
	var in credentialsInput
	if !decodeBody(w, r, &in) {
		return
	}
	a, err := s.accounts.CreateUser(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleUpdateUser handles PATCH /v1/auth/users/{uid}.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not configured")
		return
	}
	var in auth.Update
	if !decodeBody(w, r, &in) {
		return
	}
	a, err := s.accounts.UpdateUser(r.Context(), r.PathValue("uid"), in)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleDeleteUser handles DELETE /v1/auth/users/{uid}.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not configured")
		return
	}
	if err := s.accounts.DeleteUser(r.Context(), r.PathValue("uid")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
