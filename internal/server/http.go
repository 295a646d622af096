package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and login)
// must include Authorization: Bearer <token>, where the token is authToken
// or a session token issued by POST /v1/auth/login.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/schema", s.handleSchema)

	mux.HandleFunc("GET /v1/entities/{entity}", s.handleListRecords)
	mux.HandleFunc("POST /v1/entities/{entity}", s.handleCreateRecord)
	mux.HandleFunc("GET /v1/entities/{entity}/{key}", s.handleGetRecord)
	mux.HandleFunc("PUT /v1/entities/{entity}/{key}", s.handleCreateRecordWithKey)
	mux.HandleFunc("PATCH /v1/entities/{entity}/{key}", s.handleUpdateRecord)
	mux.HandleFunc("DELETE /v1/entities/{entity}/{key}", s.handleDeleteRecord)
	mux.HandleFunc("POST /v1/entities/{entity}/{key}/incr", s.handleIncrement)
	mux.HandleFunc("POST /v1/entities/{entity}/{key}/append", s.handleAppend)
	mux.HandleFunc("POST /v1/entities/{entity}/{key}/remove", s.handleRemove)
	mux.HandleFunc("GET /v1/entities/{entity}/{key}/refs/{field}", s.handleRefs)

	mux.HandleFunc("GET /v1/streams/{entity}", s.handleQueryStream)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)

	mux.HandleFunc("GET /v1/integrity", s.handleIntegrity)
	mux.HandleFunc("POST /v1/push", s.handlePush)

	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/auth/users", s.handleCreateUser)
	mux.HandleFunc("PATCH /v1/auth/users/{uid}", s.handleUpdateUser)
	mux.HandleFunc("DELETE /v1/auth/users/{uid}", s.handleDeleteUser)

	return withCORS(AuthMiddleware(authToken, s.tokens, mux))
}

// withCORS allows browser clients from any origin to call the API.
func withCORS(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
	}).Handler(h)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type schemaEntity struct {
	Path   string            `json:"path"`
	Fields map[string]string `json:"fields"`
}

// handleSchema handles GET /v1/schema. The body has the shape of a JSON
// schema file.
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]schemaEntity, len(s.reg))
	for _, name := range s.reg.Names() {
		e := s.reg[name].Schema()
		fields := make(map[string]string, len(e.Fields))
		for _, f := range e.Fields {
			fields[f.Name] = f.Type
		}
		out[name] = schemaEntity{Path: e.Path, Fields: fields}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes the JSON request body into v, answering 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
