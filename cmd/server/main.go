package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-exp-approvals/internal/client"
	"github.com/pesio-ai/be-exp-approvals/internal/handler"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/config"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/database"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/middleware"
	"github.com/pesio-ai/be-exp-approvals/internal/repository"
	"github.com/pesio-ai/be-exp-approvals/internal/scheduler"
	"github.com/pesio-ai/be-exp-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("APPROVALS_CONFIG_FILE"))
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
		Str("storage", cfg.Storage.Driver).
		Msg("Starting Expense Approvals Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize repositories
	var (
		rules    service.RuleStore
		expenses service.ExpenseStore
		audit    service.AuditStore
	)
	switch cfg.Storage.Driver {
	case "memory":
		rules = repository.NewMemoryRuleRepository()
		expenses = repository.NewMemoryExpenseRepository()
		audit = repository.NewMemoryAuditRepository()
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
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

		rules = repository.NewRuleRepository(db)
		expenses = repository.NewExpenseRepository(db)
		audit = repository.NewAuditRepository(db)
	}

	// Notification publisher; NATS is optional
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
			nc = nil
		} else {
			defer nc.Drain()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	publisher := client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.WithComponent("notifications").Logger)

	// Initialize services
	engine, err := buildEngine(cfg.Approval)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid approval configuration")
	}
	approvalService := service.NewApprovalService(engine, rules, expenses, audit, publisher, log.WithComponent("approvals"))
	ruleService := service.NewRuleService(rules, expenses, log.WithComponent("rules"))

	// Setup HTTP routes
	mux := http.NewServeMux()
	handler.NewHTTPHandler(approvalService, ruleService, log).Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Setup gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(log.Logger)))
	handler.RegisterApprovalServiceServer(grpcServer, handler.NewGRPCHandler(approvalService, log.Logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	// Reminder scheduler
	var reminders *scheduler.ReminderScheduler
	if cfg.Scheduler.Enabled {
		reminders = scheduler.NewReminderScheduler(cfg.Scheduler.ReminderSpec, expenses, publisher, log.WithComponent("scheduler"))
		if err := reminders.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reminder scheduler")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(handler.ApprovalServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		if reminders != nil {
			reminders.Stop(shutdownCtx)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}
