package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/purplewavefinance/vault-core/internal/logger"
	"github.com/purplewavefinance/vault-core/internal/state"
	"github.com/purplewavefinance/vault-core/internal/types"
	"github.com/purplewavefinance/vault-core/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for vault data visualization
type WebServer struct {
	router *mux.Router
	port   string
	vault  *vault.Vault
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, v *vault.Vault) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		vault:  v,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus scrape endpoint
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/harvests", ws.handleGetHarvests).Methods("GET")
	api.HandleFunc("/harvests/{strategyId}", ws.handleGetStrategyHarvests).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/strategies", ws.handleGetStrategies).Methods("GET")
	api.HandleFunc("/strategies/{strategyId}", ws.handleGetStrategy).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var hasErrors bool

	// Get database connection status
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	// Get latest harvest information
	var harvestInfo map[string]interface{}
	harvests, err := state.GetRecentHarvests(1)
	if err == nil && len(harvests) > 0 {
		latest := harvests[0]
		harvestInfo = map[string]interface{}{
			"last_harvest_time": latest.Timestamp,
			"last_strategy_id":  latest.StrategyID,
			"last_roi":          latest.ROI.String(),
		}
	} else {
		harvestInfo = map[string]interface{}{
			"last_harvest_time": nil,
			"last_strategy_id":  "",
			"last_roi":          "0",
		}
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "vault-core-daemon",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"has_recent_errors": hasErrors,
			"harvest_info":      harvestInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetHarvests returns paginated harvest receipts
func (ws *WebServer) handleGetHarvests(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	harvests, err := state.GetRecentHarvests(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent harvests")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve harvests")
		return
	}

	response := map[string]interface{}{
		"harvests": harvests,
		"count":    len(harvests),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetStrategyHarvests returns recent harvest receipts for one strategy
func (ws *WebServer) handleGetStrategyHarvests(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	strategyID := vars["strategyId"]
	limit := ws.parseLimit(r, 20)

	harvests, err := state.GetHarvestsForStrategy(strategyID, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("strategy_id", strategyID).Msg("Failed to get strategy harvests")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve harvests")
		return
	}

	response := map[string]interface{}{
		"strategy_id": strategyID,
		"harvests":    harvests,
		"count":       len(harvests),
		"limit":       limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns paginated vault snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultSummary returns live vault ledger totals
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	if ws.vault == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Vault not attached")
		return
	}

	response := map[string]interface{}{
		"vault_id":         ws.vault.ID(),
		"want":             ws.vault.Want(),
		"total_assets":     ws.vault.TotalAssets().String(),
		"total_idle":       ws.vault.TotalIdle().String(),
		"total_allocated":  ws.vault.TotalAllocated().String(),
		"locked_profit":    ws.vault.LockedProfit().String(),
		"total_supply":     ws.vault.TotalSupply().String(),
		"price_per_share":  ws.vault.PricePerShare().String(),
		"total_debt_ratio": ws.vault.TotalDebtRatio(),
		"shutdown":         ws.vault.IsShutdown(),
		"timestamp":        time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetStrategies returns the vault's strategy records in queue order
func (ws *WebServer) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	if ws.vault == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Vault not attached")
		return
	}

	queue := ws.vault.WithdrawalQueue()
	strategies := make([]map[string]interface{}, 0, len(queue))
	for _, id := range queue {
		rec, ok := ws.vault.StrategyRecord(id)
		if !ok {
			continue
		}
		strategies = append(strategies, strategyJSON(rec))
	}

	response := map[string]interface{}{
		"strategies": strategies,
		"count":      len(strategies),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetStrategy returns a single strategy record
func (ws *WebServer) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	if ws.vault == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Vault not attached")
		return
	}

	vars := mux.Vars(r)
	strategyID := vars["strategyId"]

	rec, ok := ws.vault.StrategyRecord(strategyID)
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Strategy not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, strategyJSON(rec))
}

func strategyJSON(rec types.StrategyRecord) map[string]interface{} {
	return map[string]interface{}{
		"strategy_id":    rec.ID,
		"activation":     rec.Activation,
		"debt_ratio_bps": rec.DebtRatio,
		"allocated":      rec.Allocated.String(),
		"gains":          rec.Gains.String(),
		"losses":         rec.Losses.String(),
		"last_report":    rec.LastReport,
		"revoked":        rec.Revoked,
	}
}

// parseLimit reads the limit query parameter, clamped to [1, 100]
func (ws *WebServer) parseLimit(r *http.Request, def int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
