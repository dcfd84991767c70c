package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/config"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/handler"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/middleware"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service (PLT-4)")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize stores
	var (
		requests    repository.RequestStore
		history     repository.HistoryStore
		delegations repository.DelegationStore
	)
	switch cfg.Engine.Storage {
	case "memory":
		mem := repository.NewMemoryStore(cfg.Engine.LockTimeout)
		requests = mem
		history = mem
		delegations = repository.NewMemoryDelegationStore()
		log.Warn().Msg("Using in-memory storage; state will not survive a restart")
	default:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		requests = repository.NewApprovalRequestRepository(db, cfg.Engine.LockTimeout)
		history = repository.NewHistoryRepository(db)
		delegations = repository.NewDelegationRepository(db)
	}

	// Initialize identity client
	identity := client.NewIdentityHTTPClient(cfg.Identity.BaseURL, cfg.Identity.Timeout)

	// Initialize notification publisher (disabled when NATS_URL is empty)
	notifier, err := client.NewNotificationPublisher(cfg.NATS.URL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer notifier.Close()

	// Initialize services
	authority := service.NewAuthorityResolver(identity, delegations,
		cfg.Engine.DelegatedAuthority == "delegator")

	delegationService := service.NewDelegationService(delegations,
		service.RoleEligibility(identity, cfg.Engine.DelegateRoles), notifier, log)

	dispatcher := service.NewDispatcher(cfg.Engine.DispatchTimeout, log)
	registerActionHandlers(dispatcher, cfg)

	approvalService := service.NewApprovalService(requests, history, authority, dispatcher, notifier, log)

	// Start the delegation expiry sweeper
	if cfg.Engine.SweepInterval > 0 {
		go delegationService.RunSweeper(ctx, cfg.Engine.SweepInterval)
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, delegationService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Approval routes
	mux.HandleFunc("/api/v1/approvals", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListPending(w, r)
		case http.MethodPost:
			httpHandler.CreateApprovalRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/approvals/get", httpHandler.GetApprovalRequest)
	mux.HandleFunc("/api/v1/approvals/decide", httpHandler.Decide)
	mux.HandleFunc("/api/v1/approvals/cancel", httpHandler.Cancel)
	mux.HandleFunc("/api/v1/approvals/history", httpHandler.ListHistory)

	// Delegation routes
	mux.HandleFunc("/api/v1/delegations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListDelegations(w, r)
		case http.MethodPost:
			httpHandler.CreateDelegation(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/delegations/deactivate", httpHandler.DeactivateDelegation)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// registerActionHandlers wires the downstream side effect for each subject
// type the engine gates. Rejections are status callbacks; final approval of a
// journal entry posts it to the general ledger.
func registerActionHandlers(d *service.Dispatcher, cfg *config.Config) {
	timeout := cfg.Engine.DispatchTimeout

	journals := client.NewJournalsClient(getEnv("JOURNALS_URL", "http://localhost:9083"), timeout)
	d.Register(repository.SubjectJournalEntry, service.ActionHandlerFunc(
		func(ctx context.Context, subjectID string, outcome repository.RequestStatus) error {
			if outcome != repository.StatusApproved {
				return nil
			}
			return journals.PostJournal(ctx, subjectID)
		}))

	statusTargets := []struct {
		subject repository.SubjectType
		baseURL string
		path    string
	}{
		{repository.SubjectExpense, getEnv("EXPENSES_URL", "http://localhost:9087"), "/api/v1/expenses/status"},
		{repository.SubjectInvoice, getEnv("INVOICES_URL", "http://localhost:9085"), "/api/v1/invoices/status"},
		{repository.SubjectPriceChange, getEnv("PRICING_URL", "http://localhost:9088"), "/api/v1/prices/status"},
		{repository.SubjectPayslip, getEnv("PAYROLL_URL", "http://localhost:9089"), "/api/v1/payslips/status"},
	}
	for _, t := range statusTargets {
		rc := client.NewRecordStatusClient(t.baseURL, t.path, timeout)
		d.Register(t.subject, service.ActionHandlerFunc(
			func(ctx context.Context, subjectID string, outcome repository.RequestStatus) error {
				return rc.UpdateStatus(ctx, subjectID, string(outcome))
			}))
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
