package api

import (
	"errors"
	"net/http"

	"guildbank/internal/economy"

	"github.com/go-chi/chi/v5"
)

// Admin routes trust the adm claim: the command layer checks guild privileges before it
// issues an admin token.

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in economy.PoolSpec
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.CreatePool(r.Context(), actor.UserID, in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleEditPool(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in economy.PoolPatch
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.EditPool(r.Context(), actor.UserID, chi.URLParam(r, "name"), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTogglePoolRole(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	role, err := int64Param(r, "role")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.TogglePoolRole(r.Context(), actor.UserID, chi.URLParam(r, "name"), role)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.econ.DeletePool(r.Context(), actor.UserID, name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	userID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := s.econ.Reputation(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "points": points})
}

func (s *Server) handleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	userID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Delta int64 `json:"delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must not be zero")
		return
	}
	out, err := s.econ.AdjustPoints(r.Context(), economy.AdjustInput{
		Admin:          actor.UserID,
		Target:         userID,
		Delta:          in.Delta,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	userID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.econ.EnsureUser(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"user_id": userID, "created": created})
}

func (s *Server) handleSyncCatalog(w http.ResponseWriter, r *http.Request) {
	scope, err := economy.ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Items []economy.ItemDef `json:"items"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.econ.SyncCatalog(r.Context(), scope, in.Items)
	if err != nil {
		if errors.Is(err, economy.ErrInvalidDefinition) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "synced": n})
}
