package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/pagebroker/internal/usecase"
)

// CreateKeyHandler issues a new credential. The plaintext key appears in this
// response and nowhere else.
func (s *Server) CreateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		var in usecase.CreateKeyInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		k, plaintext, err := s.Keys.Create(r.Context(), caller, in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusCreated, "", "credential issued", map[string]any{
			"key":       toKeyView(k),
			"plaintext": plaintext,
		})
	}
}

// ListKeysHandler returns all credentials.
func (s *Server) ListKeysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		keys, err := s.Keys.List(r.Context(), caller)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]keyView, len(keys))
		for i, k := range keys {
			views[i] = toKeyView(k)
		}
		writeData(w, http.StatusOK, "", "credentials", views)
	}
}

// GetKeyHandler returns one credential.
func (s *Server) GetKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		k, err := s.Keys.Get(r.Context(), caller, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusOK, "", "credential", toKeyView(k))
	}
}

type updateKeyRequest struct {
	Label  *string `json:"label,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// UpdateKeyHandler relabels or (de)activates a credential.
func (s *Server) UpdateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		var body updateKeyRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, err, nil)
			return
		}
		k, err := s.Keys.Update(r.Context(), caller, chi.URLParam(r, "id"), body.Label, body.Active)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusOK, "", "credential updated", toKeyView(k))
	}
}

// RotateKeyHandler replaces the plaintext of a credential.
func (s *Server) RotateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		k, plaintext, err := s.Keys.Rotate(r.Context(), caller, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusOK, "", "credential rotated", map[string]any{
			"key":       toKeyView(k),
			"plaintext": plaintext,
		})
	}
}

// CreateEngineHandler registers an engine.
func (s *Server) CreateEngineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		var in usecase.CreateEngineInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		e, err := s.Engines.Create(r.Context(), caller, in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusCreated, "", "engine registered", toEngineView(e))
	}
}

// ListEnginesHandler returns the engine catalogue.
func (s *Server) ListEnginesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engines, err := s.Engines.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]engineView, len(engines))
		for i, e := range engines {
			views[i] = toEngineView(e)
		}
		writeData(w, http.StatusOK, "", "engines", views)
	}
}

// GetEngineHandler returns one engine.
func (s *Server) GetEngineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.Engines.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusOK, "", "engine", toEngineView(e))
	}
}

// DeleteEngineHandler removes an engine from the catalogue.
func (s *Server) DeleteEngineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		if err := s.Engines.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
