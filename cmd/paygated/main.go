package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fenlandpay/paygate-go/internal/platform/clock"
	"github.com/fenlandpay/paygate-go/internal/platform/server"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
	"github.com/fenlandpay/paygate-go/internal/platform/truelayer"
	"github.com/fenlandpay/paygate-go/internal/platform/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.RealClock{}
	httpAddr := envOr("PAYGATE_HTTP_ADDR", ":8080")
	databaseURL := envOr("PAYGATE_DATABASE_URL", "")
	tlsEnabled := envOr("PAYGATE_TLS_ENABLED", "false") == "true"
	clientID := envOr("PAYGATE_TL_CLIENT_ID", "")
	clientSecret := envOr("PAYGATE_TL_CLIENT_SECRET", "")
	strict := envOr("PAYGATE_STRICT", "false") == "true"
	if err := validateProductionRuntime(strict, databaseURL, tlsEnabled, clientID, clientSecret); err != nil {
		log.Fatalf("invalid runtime config: %v", err)
	}

	tlsCfg, err := server.BuildTLSConfig(server.TLSConfig{
		Enabled:           tlsEnabled,
		CertFile:          envOr("PAYGATE_TLS_CERT_FILE", ""),
		KeyFile:           envOr("PAYGATE_TLS_KEY_FILE", ""),
		ClientCAFile:      envOr("PAYGATE_TLS_CLIENT_CA_FILE", ""),
		RequireClientCert: envOr("PAYGATE_TLS_REQUIRE_CLIENT_CERT", "false") == "true",
	})
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	var db *sql.DB
	var payments store.PaymentStore
	var users store.UserStore
	if databaseURL != "" {
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		defer db.Close()
		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		payments = pg
		users = pg
	} else {
		log.Printf("no database configured, using in-memory store")
		mem := store.NewMemoryStore()
		payments = mem
		users = mem
	}

	provider := truelayer.NewClient(truelayer.Config{
		Environment:       providerEnvironment(),
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		MerchantAccountID: envOr("PAYGATE_TL_MERCHANT_ACCOUNT_ID", ""),
		ReturnURI:         envOr("PAYGATE_TL_RETURN_URI", ""),
	}, clk)

	metrics := server.NewMetrics()
	paymentsSvc := server.NewPaymentsService(clk, payments, server.InstrumentProvider(provider, metrics), metrics)
	usersSvc := server.NewUsersService(clk, users, metrics)

	staleInterval := envDuration("PAYGATE_STALE_SCAN_INTERVAL", time.Minute)
	staleThreshold := envDuration("PAYGATE_STALE_THRESHOLD", 5*time.Minute)
	paymentsSvc.StartStaleRegistrationWorker(ctx, staleInterval, staleThreshold)

	keyOrigins := webhook.DefaultAllowedKeyOrigins
	if extra := envOr("PAYGATE_WEBHOOK_EXTRA_JKU", ""); extra != "" {
		keyOrigins = append(keyOrigins, strings.Split(extra, ",")...)
	}
	hook := &webhook.Handler{
		Verifier: webhook.NewVerifier(keyOrigins, nil, clk),
		Payments: payments,
		Observe:  metrics.ObserveWebhookEvent,
	}

	mux := http.NewServeMux()
	(&server.PaymentsHandler{Service: paymentsSvc}).Register(mux)
	(&server.UsersHandler{Service: usersSvc}).Register(mux)
	hook.Register(mux)
	server.SystemHandler{Ready: func(ctx context.Context) error {
		if db == nil {
			return nil
		}
		return db.PingContext(ctx)
	}}.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: httpAddr, Handler: mux, TLSConfig: tlsCfg}
	go func() {
		log.Printf("http listening on %s", httpAddr)
		var err error
		if tlsCfg != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("http server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// validateProductionRuntime refuses configurations that are only acceptable
// for local development when strict mode is on.
func validateProductionRuntime(strict bool, databaseURL string, tlsEnabled bool, clientID, clientSecret string) error {
	if !strict {
		return nil
	}
	if databaseURL == "" {
		return errors.New("strict mode requires PAYGATE_DATABASE_URL")
	}
	if !tlsEnabled {
		return errors.New("strict mode requires PAYGATE_TLS_ENABLED=true")
	}
	if clientID == "" || clientSecret == "" {
		return errors.New("strict mode requires provider client credentials")
	}
	return nil
}

func providerEnvironment() truelayer.Environment {
	switch env := envOr("PAYGATE_TL_ENVIRONMENT", "sandbox"); env {
	case "production":
		return truelayer.Production()
	case "sandbox":
		return truelayer.Sandbox()
	default:
		// anything else is treated as a mock base url for local runs
		return truelayer.Mock(env)
	}
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return d
}
