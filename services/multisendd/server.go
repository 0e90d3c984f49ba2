package multisendd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"multisender/core/types"
	"multisender/gateway/middleware"
	"multisender/native/multisend"
	"multisender/observability"
	api "multisender/sdk/multisend"
	"multisender/services/multisendd/receipts"
)

const maxRequestBody = 1 << 20

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Engine        *multisend.Engine
	Receipts      *receipts.Store
	Hub           *Hub
	Auth          middleware.AuthConfig
	RateLimit     middleware.RateLimit
	CORS          middleware.CORSConfig
	Metrics       *observability.APIMetrics
	MetricsHandle http.Handler
	LogRequests   bool
	Logger        *slog.Logger
}

// Server exposes the engine over HTTP.
type Server struct {
	engine   *multisend.Engine
	receipts *receipts.Store
	hub      *Hub
	logger   *slog.Logger
	router   http.Handler
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsHandle == nil {
		cfg.MetricsHandle = promhttp.Handler()
	}
	s := &Server{
		engine:   cfg.Engine,
		receipts: cfg.Receipts,
		hub:      cfg.Hub,
		logger:   logger,
	}
	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, logger)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "multisendd",
		LogRequests: cfg.LogRequests,
	}, cfg.Metrics, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obs.Middleware)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", cfg.MetricsHandle)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(auth.Middleware())
		v1.Use(limiter.Middleware)

		v1.Post("/batches/native", s.handleBatchNative)
		v1.Post("/batches/asset", s.handleBatchAsset)
		v1.Get("/batches/{id}", s.handleGetBatch)
		v1.Get("/senders/{address}/batches", s.handleSenderBatches)
		v1.Post("/deposit", s.handleDeposit)
		v1.Get("/stats", s.handleStats)
		v1.Get("/stats/{address}", s.handleSenderStats)
		v1.Get("/estimate", s.handleEstimate)
		v1.Get("/owner", s.handleOwner)
		if s.hub != nil {
			v1.Get("/events", s.hub.ServeWS)
		}

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.Middleware(middleware.ScopeAdmin))
			admin.Post("/ownership", s.handleTransferOwnership)
			admin.Post("/renounce", s.handleRenounce)
			admin.Post("/drain", s.handleDrain)
			admin.Post("/pause", s.handlePause)
			admin.Post("/resume", s.handleResume)
		})
	})

	s.router = otelhttp.NewHandler(r, "multisendd")
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBatchNative(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}
	var req api.NativeBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	recipients, amounts, ok := parseBatch(w, req.Recipients, req.Amounts)
	if !ok {
		return
	}
	value := new(uint256.Int)
	if strings.TrimSpace(req.Value) != "" {
		parsed, err := types.ParseAmount(req.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "value: "+err.Error())
			return
		}
		value = parsed
	}
	receipt, err := s.engine.BatchSendNative(r.Context(), multisend.Call{Sender: caller, Value: value}, recipients, amounts)
	s.respondBatch(w, r, receipt, err)
}

func (s *Server) handleBatchAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}
	var req api.AssetBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, err := types.ParseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "asset: "+err.Error())
		return
	}
	recipients, amounts, ok := parseBatch(w, req.Recipients, req.Amounts)
	if !ok {
		return
	}
	receipt, err := s.engine.BatchSendAsset(r.Context(), caller, asset, recipients, amounts)
	s.respondBatch(w, r, receipt, err)
}

func parseBatch(w http.ResponseWriter, rawRecipients, rawAmounts []string) ([]common.Address, []*uint256.Int, bool) {
	recipients, err := types.ParseAddresses(rawRecipients)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, nil, false
	}
	amounts, err := types.ParseAmounts(rawAmounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, nil, false
	}
	return recipients, amounts, true
}

// respondBatch archives an accepted receipt and writes it. A nil receipt with
// a nil error is a call ignored under the silent policy.
func (s *Server) respondBatch(w http.ResponseWriter, r *http.Request, receipt *multisend.Receipt, err error) {
	if err != nil && receipt == nil {
		s.writeEngineError(w, err)
		return
	}
	if receipt == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.archive(r.Context(), receipt)
	if err != nil {
		// Value already moved; the outcomes go back with the failure.
		s.logger.Error("batch executed with errors", "id", receipt.ID, "error", err)
		view := receiptView(receipt)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
			Error:   "batch executed but statistics were not recorded",
			Code:    "statistics_failed",
			Receipt: &view,
		})
		return
	}
	writeJSON(w, http.StatusOK, receiptView(receipt))
}

// archive stores receipt. The batch already happened, so a failure is only
// logged.
func (s *Server) archive(ctx context.Context, receipt *multisend.Receipt) {
	if s.receipts == nil {
		return
	}
	if err := s.receipts.Save(context.WithoutCancel(ctx), receipt); err != nil {
		s.logger.Error("archive receipt failed", "id", receipt.ID, "error", err)
	}
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "receipt archive disabled")
		return
	}
	receipt, err := s.receipts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, receipts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "receipt not found")
		return
	}
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView(receipt))
}

func (s *Server) handleSenderBatches(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "receipt archive disabled")
		return
	}
	sender, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	list, err := s.receipts.ListBySender(r.Context(), sender, limit)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	out := api.ReceiptList{Receipts: make([]api.Receipt, 0, len(list))}
	for _, receipt := range list {
		out.Receipts = append(out.Receipts, receiptView(receipt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}
	var req api.DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "amount: "+err.Error())
		return
	}
	if err := s.engine.ReceiveValue(r.Context(), caller, amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Stats{
		TotalBatches:          types.FormatAmount(stats.TotalBatches),
		TotalRecipientsServed: types.FormatAmount(stats.TotalRecipientsServed),
	})
}

func (s *Server) handleSenderStats(w http.ResponseWriter, r *http.Request) {
	sender, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	count, err := s.engine.BatchCountFor(sender)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SenderStats{Address: sender.Hex(), Batches: types.FormatAmount(count)})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := multisend.Mode(strings.ToLower(strings.TrimSpace(query.Get("mode"))))
	if mode == "" {
		mode = multisend.ModeNative
	}
	if mode != multisend.ModeNative && mode != multisend.ModeAsset {
		writeError(w, http.StatusBadRequest, "bad_request", "mode must be native or asset")
		return
	}
	n, err := strconv.ParseUint(strings.TrimSpace(query.Get("recipients")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "recipients must be a non-negative integer")
		return
	}
	writeJSON(w, http.StatusOK, api.Estimate{
		Mode:       string(mode),
		Recipients: n,
		Gas:        s.engine.EstimateGas(mode, n).Dec(),
	})
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := s.engine.Owner()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	balance, err := s.engine.VaultBalance()
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EngineInfo{
		Owner:         owner.Hex(),
		Renounced:     types.IsZeroAddress(owner),
		Paused:        s.engine.Paused(),
		Vault:         s.engine.Address().Hex(),
		VaultBalance:  balance.Dec(),
		ErrorPolicy:   s.engine.Policy().String(),
		RefundBasis:   s.engine.RefundBasis().String(),
		MaxRecipients: s.engine.MaxRecipients(),
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	var req api.OwnershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next, err := types.ParseAddress(req.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "new_owner: "+err.Error())
		return
	}
	if err := s.engine.TransferOwnership(r.Context(), caller, next); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenounce(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	if err := s.engine.RenounceOwnership(r.Context(), caller); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	amount, err := s.engine.EmergencyDrain(r.Context(), caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if amount == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, api.DrainResult{Amount: amount.Dec()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	if err := s.engine.Pause(r.Context(), caller); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	if err := s.engine.Resume(r.Context(), caller); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, multisend.ErrUnauthorizedAccount):
		return http.StatusForbidden
	case errors.Is(err, multisend.ErrNotInitialized), errors.Is(err, multisend.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, multisend.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, multisend.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case multisend.IsPrecondition(err), errors.Is(err, multisend.ErrInvalidOwner):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.writeInternal(w, err)
		return
	}
	writeError(w, status, multisend.ErrorCode(err), err.Error())
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func receiptView(r *multisend.Receipt) api.Receipt {
	view := api.Receipt{
		ID:                    r.ID,
		Mode:                  string(r.Mode),
		Sender:                r.Sender.Hex(),
		DeclaredTotal:         types.FormatAmount(r.DeclaredTotal),
		DeliveredTotal:        types.FormatAmount(r.DeliveredTotal),
		RefundFailed:          r.RefundFailed,
		Successes:             r.Successes,
		Failures:              r.Failures,
		Outcomes:              make([]api.Outcome, 0, len(r.Outcomes)),
		TotalBatches:          optionalAmount(r.TotalBatches),
		TotalRecipientsServed: optionalAmount(r.TotalServed),
		SenderBatches:         optionalAmount(r.SenderBatches),
		Timestamp:             r.Timestamp,
	}
	if r.Mode == multisend.ModeAsset {
		view.Asset = r.Asset.Hex()
	} else {
		view.Value = optionalAmount(r.Supplied)
		view.Refund = optionalAmount(r.Refund)
	}
	for _, o := range r.Outcomes {
		out := api.Outcome{
			Index:     o.Index,
			Recipient: o.Recipient.Hex(),
			Amount:    types.FormatAmount(o.Amount),
			Success:   o.Success,
		}
		if !o.Success {
			out.Reason = string(o.Reason)
			out.Message = o.Reason.Description()
			out.Detail = o.Detail
		}
		view.Outcomes = append(view.Outcomes, out)
	}
	return view
}

func optionalAmount(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
