package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Krajiyah/firebase-admin-util/internal/model"
	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/schema"
)

// model resolves the {entity} path value, answering 404 for unknown names.
func (s *Server) model(w http.ResponseWriter, r *http.Request) (*model.Model, bool) {
	m, err := s.reg.Get(r.PathValue("entity"))
	if err != nil {
		s.writeErr(w, err)
		return nil, false
	}
	return m, true
}

// parseValue reads a query parameter as JSON, falling back to the raw
// string, so ?value=30 matches the number 30 and ?value=Ann the string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// handleListRecords handles GET /v1/entities/{entity}.
//
// Query forms, checked in order:
//
//	?keys=k1,k2              records with the given keys
//	?where=field:value ...   records whose fields loosely equal the values
//	?field=f&value=v         same, for one field
//	?field=f&prefix=p        records whose string field starts with p
//	?field=f&lo=a&hi=b       records whose field lies in [a, b]
//
// Without parameters every record is returned.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx := r.Context()
	field := q.Get("field")

	var (
		entities []*model.Entity
		err      error
	)
	switch {
	case q.Has("keys"):
		entities, err = m.GetAllByKeys(ctx, strings.Split(q.Get("keys"), ",")...)
	case q.Has("where"):
		// field/value stays the primary constraint; where adds the rest.
		var eqs []record.Eq
		switch {
		case field != "" && q.Has("value"):
			eqs = append(eqs, record.Eq{Field: field, Value: parseValue(q.Get("value"))})
		case field != "" || q.Has("prefix") || q.Has("lo") || q.Has("hi"):
			err = fmt.Errorf("%w: where combines only with field and value", errBadQuery)
		}
		for _, cond := range q["where"] {
			if err != nil {
				break
			}
			f, v, found := strings.Cut(cond, ":")
			if !found || f == "" {
				err = fmt.Errorf("%w: where %q is not field:value", errBadQuery, cond)
				break
			}
			eqs = append(eqs, record.Eq{Field: f, Value: parseValue(v)})
		}
		if err == nil {
			entities, err = m.GetAllByFields(ctx, eqs...)
		}
	case field != "" && q.Has("value"):
		entities, err = m.GetAllByFields(ctx, record.Eq{Field: field, Value: parseValue(q.Get("value"))})
	case field != "" && q.Has("prefix"):
		entities, err = m.GetAllThatStartsWith(ctx, field, q.Get("prefix"))
	case field != "" && (q.Has("lo") || q.Has("hi")):
		b := record.Bound{Field: field}
		if q.Has("lo") {
			b.Lo = parseValue(q.Get("lo"))
		}
		if q.Has("hi") {
			b.Hi = parseValue(q.Get("hi"))
		}
		entities, err = m.GetAllByBounds(ctx, b)
	case field != "":
		err = fmt.Errorf("%w: field needs value, prefix, lo or hi", errBadQuery)
	default:
		entities, err = m.GetAll(ctx)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": entities, "total": len(entities)})
}

var errBadQuery = errors.New("bad query")

// handleCreateRecord handles POST /v1/entities/{entity}. The key is
// generated.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	e, err := m.CreateByAutoKey(r.Context(), fields)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// handleCreateRecordWithKey handles PUT /v1/entities/{entity}/{key}. It
// fails with 409 when the key is taken.
func (s *Server) handleCreateRecordWithKey(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	e, err := m.CreateByManualKey(r.Context(), r.PathValue("key"), fields)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// handleGetRecord handles GET /v1/entities/{entity}/{key}.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	e, err := m.GetByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleUpdateRecord handles PATCH /v1/entities/{entity}/{key}. Null
// values delete fields.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	e, err := m.UpdateByKey(r.Context(), r.PathValue("key"), fields)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteRecord handles DELETE /v1/entities/{entity}/{key} and
// returns the record as it was before deletion.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	e, err := m.DeleteByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type incrementInput struct {
	Field string  `json:"field"`
	Delta float64 `json:"delta"`
}

// handleIncrement handles POST /v1/entities/{entity}/{key}/incr.
func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var in incrementInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Field == "" {
		writeError(w, http.StatusBadRequest, "field is required")
		return
	}
	e, err := m.TransactNum(r.Context(), r.PathValue("key"), in.Field, in.Delta)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type listInput struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// handleAppend handles POST /v1/entities/{entity}/{key}/append.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	s.handleListOp(w, r, (*model.Model).TransactAppendToList)
}

// handleRemove handles POST /v1/entities/{entity}/{key}/remove.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.handleListOp(w, r, (*model.Model).TransactRemoveFromList)
}

type listOp func(m *model.Model, ctx context.Context, key, field string, v any) (*model.Entity, error)

func (s *Server) handleListOp(w http.ResponseWriter, r *http.Request, op listOp) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var in listInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Field == "" || in.Value == nil {
		writeError(w, http.StatusBadRequest, "field and value are required")
		return
	}
	e, err := op(m, r.Context(), r.PathValue("key"), in.Field, in.Value)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type refsOutput struct {
	Records []*model.Entity `json:"records"`
	Missing []string        `json:"missing,omitempty"`
}

// handleRefs handles GET /v1/entities/{entity}/{key}/refs/{field}. It
// fetches the records a reference field points at; keys with no stored
// record are listed as missing.
func (s *Server) handleRefs(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	e, err := m.GetByKey(ctx, r.PathValue("key"))
	if err != nil {
		s.writeErr(w, err)
		return
	}

	name := r.PathValue("field")
	f, ok := m.Schema().Field(name)
	if !ok {
		s.writeErr(w, fmt.Errorf("%s.%s: %w", m.Name(), name, model.ErrUnknownField))
		return
	}
	var refs []*model.Entity
	switch f.Kind {
	case schema.KindRef:
		var ref *model.Entity
		if ref, err = e.Ref(name); ref != nil {
			refs = []*model.Entity{ref}
		}
	default:
		refs, err = e.Refs(name)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}

	out := refsOutput{Records: make([]*model.Entity, 0, len(refs))}
	for _, ref := range refs {
		if err := ref.Fetch(ctx); err != nil {
			if record.IsNotFound(err) {
				out.Missing = append(out.Missing, ref.Key())
				continue
			}
			s.writeErr(w, err)
			return
		}
		out.Records = append(out.Records, ref)
	}
	writeJSON(w, http.StatusOK, out)
}
