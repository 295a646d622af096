package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Krajiyah/firebase-admin-util/internal/auth"
	"github.com/Krajiyah/firebase-admin-util/internal/integrity"
	"github.com/Krajiyah/firebase-admin-util/internal/listener"
	"github.com/Krajiyah/firebase-admin-util/internal/model"
	"github.com/Krajiyah/firebase-admin-util/internal/push"
	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// Server exposes a model registry over HTTP and gRPC. The account and push
// endpoints answer 501 unless the matching collaborator is set.
type Server struct {
	reg    model.Registry
	logger *slog.Logger

	accounts  *auth.Service
	tokens    *auth.Tokens
	push      *push.Sender
	integrity []integrity.Option

	sseHub    *sseHub
	listeners []*listener.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAccounts enables the account endpoints. tokens may be nil, in which
// case login is disabled.
func WithAccounts(svc *auth.Service, tokens *auth.Tokens) Option {
	return func(s *Server) {
		s.accounts = svc
		s.tokens = tokens
	}
}

// WithPush enables POST /v1/push.
func WithPush(p *push.Sender) Option {
	return func(s *Server) { s.push = p }
}

// WithIntegrityOptions configures the checker behind GET /v1/integrity.
func WithIntegrityOptions(opts ...integrity.Option) Option {
	return func(s *Server) { s.integrity = opts }
}

// New returns a Server over reg.
func New(reg model.Registry, opts ...Option) *Server {
	s := &Server{reg: reg, logger: slog.Default(), sseHub: newSSEHub()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Tokens returns the session token issuer, or nil.
func (s *Server) Tokens() *auth.Tokens { return s.tokens }

// StartBroadcast listens to every entity path and fans the events out to
// clients of GET /v1/events/stream. Listeners stop when ctx is done or on
// StopBroadcast.
func (s *Server) StartBroadcast(ctx context.Context) error {
	for _, name := range s.reg.Names() {
		m := s.reg[name]
		l, err := m.ListenForQuery(ctx, "", nil, func(e *model.Entity) {
			s.broadcastEntity(name, e)
		})
		if err != nil {
			s.StopBroadcast()
			return err
		}
		s.listeners = append(s.listeners, l)
	}
	return nil
}

// StopBroadcast detaches the listeners started by StartBroadcast.
func (s *Server) StopBroadcast() {
	for _, l := range s.listeners {
		l.Stop()
	}
	s.listeners = nil
}

// statusFor maps an error from the record layer to an HTTP status.
func statusFor(err error) int {
	var ve *schema.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, record.ErrNotFound),
		errors.Is(err, model.ErrUnknownEntity),
		errors.Is(err, auth.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, record.ErrAlreadyExists),
		errors.Is(err, record.ErrTransactionAborted),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnknownField),
		errors.Is(err, model.ErrReadOnlyField),
		errors.Is(err, model.ErrNotReference),
		errors.Is(err, record.ErrNotNumber),
		errors.Is(err, record.ErrNotList),
		errors.Is(err, record.ErrNoKey),
		errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, push.ErrNoTarget),
		errors.Is(err, errBadQuery):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeErr writes err with the status statusFor picks. Validation errors
// carry their field list.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, code, map[string]any{"error": ve.Error(), "fields": ve.Errors})
		return
	}
	writeError(w, code, err.Error())
}
