// internal/api/server.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"

	"github.com/cmatc13/lumenpay/internal/asset"
	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/internal/processor"
	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/config"
	"github.com/cmatc13/lumenpay/pkg/errors"
	"github.com/cmatc13/lumenpay/pkg/health"
	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/metrics"
)

const maxBodyBytes = 64 << 10

// Server represents the API server
type Server struct {
	config           *config.Config
	router           *chi.Mux
	pipeline         *processor.Pipeline
	tokenAuth        *jwtauth.JWTAuth
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates a new API server. healthRegistry and logger may be nil.
func NewServer(
	cfg *config.Config,
	pipeline *processor.Pipeline,
	healthRegistry *health.Registry,
	metricsCollector *metrics.Metrics,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Named("api")
	if metricsCollector == nil {
		metricsCollector = metrics.New(metrics.DefaultConfig())
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry(logger, metricsCollector)
	}

	r := chi.NewRouter()
	s := &Server{
		config:           cfg,
		router:           r,
		pipeline:         pipeline,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:              ":" + cfg.API.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.Auth.JWTSecret != "" {
		s.tokenAuth = jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware(s.metricsCollector))
	s.router.Use(RecovererWithMetrics(s.logger, s.metricsCollector))

	origins := s.config.API.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.config.API.RateLimit > 0 {
		s.router.Use(httprate.LimitByIP(s.config.API.RateLimit, time.Minute))
	}
	if s.config.API.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.config.API.RequestTimeout))
	}
}

// setupRoutes configures the routes for the server
func (s *Server) setupRoutes() {
	s.router.Method(http.MethodGet, "/metrics", s.metricsCollector.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", s.handleHealth)
		r.Get("/balance", s.handleBalance)
		r.Post("/wallet/details", s.handleWalletDetails)
		r.Get("/wallet/transactions/{accountId}", s.handleWalletTransactions)

		// Routes that move funds or expose the journal
		r.Group(func(r chi.Router) {
			if s.tokenAuth != nil {
				r.Use(jwtauth.Verifier(s.tokenAuth))
				r.Use(jwtauth.Authenticator)
			}

			r.Post("/transaction/send", s.handleTransactionSend)
			r.Post("/payment/send", s.handlePaymentSend)
			r.Get("/submissions", s.handleSubmissions)
			r.Get("/submissions/{id}", s.handleSubmission)
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "port", s.config.API.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("API server shutdown complete")
	return nil
}

// amountField accepts an amount given either as a JSON string or a JSON number.
// Numbers keep their literal text so no precision is lost to float64.
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return err
	}
	*a = amountField(n.String())
	return nil
}

type sendRequest struct {
	DestinationAccount string      `json:"destinationAccount"`
	Amount             amountField `json:"amount"`
	AssetCode          string      `json:"assetCode"`
	AssetIssuer        string      `json:"assetIssuer"`
}

type sendResponse struct {
	Success bool `json:"success"`
	*processor.Result
}

type accountDetails struct {
	ID                 string           `json:"id"`
	AccountSequence    string           `json:"accountSequence"`
	PagingToken        string           `json:"pagingToken"`
	Balances           []ledger.Balance `json:"balances"`
	Signers            []ledger.Signer  `json:"signers"`
	SubentryCount      int32            `json:"subentryCount"`
	LastModifiedLedger uint32           `json:"lastModifiedLedger"`
	LastModifiedTime   *time.Time       `json:"lastModifiedTime"`
}

type balanceResponse struct {
	AccountID string           `json:"accountId"`
	Balances  []ledger.Balance `json:"balances"`
}

type healthResponse struct {
	Status    health.Status           `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]health.Check `json:"checks"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handleHealth reports the aggregate dependency status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthRegistry.Report(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}

	s.renderJSON(w, healthResponse{
		Status:    report.Status,
		Version:   s.config.API.Version,
		Timestamp: report.Timestamp,
		Checks:    report.Checks,
	}, status)
}

// handleBalance returns the signing account's balances
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.Balance(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, balanceResponse{AccountID: snap.ID, Balances: snap.Balances}, http.StatusOK)
}

// handleWalletDetails returns the current state of any account
func (s *Server) handleWalletDetails(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
	}
	if err := s.decode(w, r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	snap, err := s.pipeline.Account(r.Context(), strings.TrimSpace(req.AccountID))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	s.renderJSON(w, accountDetails{
		ID:                 snap.ID,
		AccountSequence:    strconv.FormatInt(snap.Sequence, 10),
		PagingToken:        snap.ID,
		Balances:           snap.Balances,
		Signers:            snap.Signers,
		SubentryCount:      snap.SubentryCount,
		LastModifiedLedger: snap.LastModifiedLedger,
		LastModifiedTime:   snap.LastModifiedTime,
	}, http.StatusOK)
}

// handleWalletTransactions returns an account's recent transactions, newest first
func (s *Server) handleWalletTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	entries, err := s.pipeline.History(r.Context(), chi.URLParam(r, "accountId"), limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.TransactionHistoryEntry{}
	}
	s.renderJSON(w, entries, http.StatusOK)
}

// handleTransactionSend sends a native payment from the signing account
func (s *Server) handleTransactionSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := s.decode(w, r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.submit(w, r, req, asset.NativeSpec())
}

// handlePaymentSend sends a native or issued-asset payment. The native asset is used
// only when both assetCode and assetIssuer are absent.
func (s *Server) handlePaymentSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := s.decode(w, r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	useNative := strings.TrimSpace(req.AssetCode) == "" && strings.TrimSpace(req.AssetIssuer) == ""
	spec, err := asset.Resolve(useNative, req.AssetCode, req.AssetIssuer)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.submit(w, r, req, spec)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req sendRequest, spec asset.Spec) {
	result, err := s.pipeline.Submit(r.Context(), transaction.PaymentRequest{
		Destination: strings.TrimSpace(req.DestinationAccount),
		Amount:      strings.TrimSpace(string(req.Amount)),
		Asset:       spec,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, sendResponse{Success: true, Result: result}, http.StatusOK)
}

// handleSubmissions lists journal records for the signing account
func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	records, err := s.pipeline.Submissions(r.Context(), limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if records == nil {
		records = []*transaction.Record{}
	}
	s.renderJSON(w, records, http.StatusOK)
}

// parseLimit reads the optional limit query; an absent value means the default page
// handleSubmission returns one journal record by id
func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	record, err := s.pipeline.Submission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, record, http.StatusOK)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return processor.DefaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(errors.OpAccountTransactions, "limit must be an integer",
			map[string]interface{}{"limit": raw})
	}
	return limit, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.NewPaymentError(errors.PaymentErrValidation, errors.OpCheckShape, "Invalid request body", err)
	}
	return nil
}

// renderJSON renders a JSON response
func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	if err := writeJSON(w, status, data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

// renderError maps a domain error onto its status code and public message
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	code := errors.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
	}

	s.metricsCollector.RecordError("api", code)
	reqLogger := s.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		reqLogger.Error("Request failed", "error", err, "code", code)
	} else {
		reqLogger.Debug("Request rejected", "error", err, "code", code)
	}

	s.renderJSON(w, errorResponse{Error: errors.PublicMessage(err), Code: code}, status)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
