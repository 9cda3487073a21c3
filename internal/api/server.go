package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tycoon/internal/auth"
	"tycoon/internal/config"
	"tycoon/internal/domain"
	"tycoon/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type contextKey string

const ownerContextKey contextKey = "owner"

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	signer  *auth.Signer
	game    *game.Service
	settler *game.Settler
	now     func() time.Time
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, signer *auth.Signer, gameSvc *game.Service, settler *game.Settler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		signer:  signer,
		game:    gameSvc,
		settler: settler,
		now:     time.Now,
		mux:     chi.NewRouter(),
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

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/catalog", s.handleCatalog)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/investments", s.handleStatus)
			r.Get("/investments/{type}/events", s.handleEvents)
			r.Post("/investments/{type}/purchase", s.handlePurchase)
			r.Post("/investments/{type}/collect", s.handleCollect)
			r.Get("/investments/{type}/repair", s.handleRepairQuote)
			r.Post("/investments/{type}/repair", s.handleRepair)
			r.Post("/investments/{type}/emergency", s.handleEmergency)
			r.Get("/emergencies", s.handleEmergencies)
			r.Post("/sync/replay", s.handleSyncReplay)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.internalMiddleware)
		r.Post("/settlement/run", s.handleSettlementRun)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		ownerID, err := s.signer.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if err := s.game.EnsureWallet(r.Context(), ownerID); err != nil {
			s.log.Error("ensure wallet failed", "owner_id", ownerID, "err", err)
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ownerContextKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) internalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		want := strings.TrimSpace(s.cfg.InternalToken)
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ownerFromContext(ctx context.Context) (string, error) {
	owner, ok := ctx.Value(ownerContextKey).(string)
	if !ok || owner == "" {
		return "", domain.ErrUnauthorized
	}
	return owner, nil
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"investments": s.game.Catalog()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.Status(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	out, err := s.game.Events(r.Context(), owner, chi.URLParam(r, "type"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.Purchase(r.Context(), owner, chi.URLParam(r, "type"), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.Collect(r.Context(), owner, chi.URLParam(r, "type"), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRepairQuote(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.RepairQuote(r.Context(), owner, chi.URLParam(r, "type"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		MaxCost int64 `json:"max_cost"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Repair(r.Context(), owner, chi.URLParam(r, "type"), in.MaxCost, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Tier string `json:"tier"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.RespondToEmergency(r.Context(), owner, chi.URLParam(r, "type"), in.Tier, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEmergencies(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emergencies": s.game.PendingEmergencies(owner)})
}

// ReplayCommand is one write queued by an offline client.
type ReplayCommand struct {
	Op             string `json:"op"`
	TypeID         string `json:"type_id"`
	Tier           string `json:"tier,omitempty"`
	MaxCost        int64  `json:"max_cost,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ReplayResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	OK             bool   `json:"ok"`
	Status         int    `json:"status"`
	Error          string `json:"error,omitempty"`
	// Duplicate marks a command whose key was already applied.
	Duplicate bool `json:"duplicate,omitempty"`
	Result    any  `json:"result,omitempty"`
}

func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Commands []ReplayCommand `json:"commands"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]ReplayResult, 0, len(in.Commands))
	for _, cmd := range in.Commands {
		res, err := s.replay(r.Context(), owner, cmd)
		rr := ReplayResult{IdempotencyKey: cmd.IdempotencyKey, OK: err == nil, Status: http.StatusOK, Result: res}
		if err != nil {
			rr.Status, rr.Error = domainStatus(err), err.Error()
			rr.Duplicate = errors.Is(err, domain.ErrDuplicateOp)
			rr.Result = nil
		}
		out = append(out, rr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) replay(ctx context.Context, owner string, cmd ReplayCommand) (any, error) {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	switch strings.ToLower(strings.TrimSpace(cmd.Op)) {
	case "purchase":
		return s.game.Purchase(ctx, owner, cmd.TypeID, key)
	case "collect":
		return s.game.Collect(ctx, owner, cmd.TypeID, key)
	case "repair":
		return s.game.Repair(ctx, owner, cmd.TypeID, cmd.MaxCost, key)
	case "emergency":
		return s.game.RespondToEmergency(ctx, owner, cmd.TypeID, cmd.Tier, key)
	default:
		return nil, errUnknownOp
	}
}

var errUnknownOp = errors.New("unknown replay op")

func (s *Server) handleSettlementRun(w http.ResponseWriter, r *http.Request) {
	if s.settler == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement is not configured")
		return
	}
	// The pass must outlive the client request.
	ctx := context.WithoutCancel(r.Context())
	report, err := s.settler.RunPass(ctx, s.now())
	if err != nil {
		s.log.Warn("settlement pass failed", "err", err, "settled", report.Settled, "failed", report.Failed)
		if errors.Is(err, game.ErrPassInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownType):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrDuplicateOp), errors.Is(err, game.ErrPassInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidTier), errors.Is(err, errUnknownOp):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
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
