package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guildbank/internal/auth"
	"guildbank/internal/economy"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const actorContextKey contextKey = "actor"

type Server struct {
	log    *slog.Logger
	auth   *auth.Signer
	econ   *economy.Service
	mux    *chi.Mux
	health func(context.Context) error
}

type Option func(*Server)

// WithHealthCheck makes /healthz report the result of check, typically a database ping.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

func New(logger *slog.Logger, signer *auth.Signer, econ *economy.Service, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		auth: signer,
		econ: econ,
		mux:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.handleMe)
		r.Get("/items", s.handleCatalog)
		r.Get("/items/{name}", s.handleItem)
		r.Get("/inventory", s.handleInventory)
		r.Post("/items/{name}/buy", s.handleBuy)
		r.Post("/items/{name}/sell", s.handleSell)
		r.Post("/items/{name}/gift", s.handleGift)
		r.Post("/items/{name}/use", s.handleUse)
		r.Get("/suggest/items", s.handleItemSuggestions)

		r.Get("/pools", s.handlePools)
		r.Get("/pools/{name}", s.handlePoolStatus)
		r.Get("/suggest/pools", s.handlePoolSuggestions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/pools", s.handleCreatePool)
			r.Patch("/pools/{name}", s.handleEditPool)
			r.Post("/pools/{name}/roles/{role}", s.handleTogglePoolRole)
			r.Delete("/pools/{name}", s.handleDeletePool)
			r.Get("/users/{id}/points", s.handleReputation)
			r.Post("/users/{id}/points", s.handleAdjustPoints)
			r.Post("/users/{id}", s.handleEnsureUser)
			r.Put("/catalog/{scope}", s.handleSyncCatalog)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r.Context())
		if err != nil || !actor.Admin {
			writeError(w, http.StatusForbidden, "administrator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFromContext(ctx context.Context) (auth.Actor, error) {
	actor, ok := ctx.Value(actorContextKey).(auth.Actor)
	if !ok || actor.UserID == 0 {
		return auth.Actor{}, errors.New("missing auth context")
	}
	return actor, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	points, err := s.econ.Reputation(r.Context(), actor.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := map[string]any{"user_id": actor.UserID, "admin": actor.Admin, "points": points}
	gang, err := s.econ.GangControl(r.Context(), actor.UserID)
	switch {
	case err == nil:
		out["gang"] = gang
	case errors.Is(err, economy.ErrNotFound):
	default:
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := s.actorAndScope(w, r)
	if !ok {
		return
	}
	out, err := s.econ.Catalog(r.Context(), actor.UserID, scope)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := s.actorAndScope(w, r)
	if !ok {
		return
	}
	out, err := s.econ.Item(r.Context(), actor.UserID, scope, chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := s.actorAndScope(w, r)
	if !ok {
		return
	}
	out, err := s.econ.Inventory(r.Context(), actor.UserID, scope)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := s.actorAndScope(w, r)
	if !ok {
		return
	}
	out, err := s.econ.BuyItem(r.Context(), economy.TradeInput{
		Actor:          actor.UserID,
		Scope:          scope,
		Item:           chi.URLParam(r, "name"),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := s.actorAndScope(w, r)
	if !ok {
		return
	}
	out, err := s.econ.SellItem(r.Context(), economy.TradeInput{
		Actor:          actor.UserID,
		Scope:          scope,
		Item:           chi.URLParam(r, "name"),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGift(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Target int64 `json:"target"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Target <= 0 {
		writeError(w, http.StatusBadRequest, "target must be a user id")
		return
	}
	out, err := s.econ.GiftItem(r.Context(), economy.GiftInput{
		Actor:          actor.UserID,
		Target:         in.Target,
		Item:           chi.URLParam(r, "name"),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUse(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.econ.UseItem(r.Context(), economy.UseInput{
		Actor:          actor.UserID,
		Item:           chi.URLParam(r, "name"),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleItemSuggestions serves autocomplete. ?owned=1 lists the caller's holdings
// instead of the catalog.
func (s *Server) handleItemSuggestions(w http.ResponseWriter, r *http.Request) {
	actor, scope, ok := s.actorAndScope(w, r)
	if !ok {
		return
	}
	prefix := r.URL.Query().Get("prefix")
	var (
		out []economy.Suggestion
		err error
	)
	if r.URL.Query().Get("owned") == "1" {
		out, err = s.econ.OwnedSuggestions(r.Context(), actor.UserID, scope, prefix)
	} else {
		out, err = s.econ.CatalogSuggestions(r.Context(), actor.UserID, scope, prefix)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.Pools(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.PoolStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePoolSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.PoolSuggestions(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (s *Server) actorAndScope(w http.ResponseWriter, r *http.Request) (auth.Actor, economy.Scope, bool) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return auth.Actor{}, "", false
	}
	scope, err := economy.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return auth.Actor{}, "", false
	}
	return actor, scope, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	if f, ok := economy.AsFailure(err); ok {
		writeJSON(w, failureStatus(f.Kind), map[string]any{"error": f.Reason, "kind": f.Kind})
		return
	}
	switch {
	case errors.Is(err, economy.ErrTxConflict):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "retryable": true})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		s.log.Error("economy operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func failureStatus(k economy.Kind) int {
	switch k {
	case economy.KindNotFound:
		return http.StatusNotFound
	case economy.KindUnauthorized:
		return http.StatusForbidden
	case economy.KindCapacityViolation:
		return http.StatusUnprocessableEntity
	case economy.KindInsufficientResource, economy.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}
