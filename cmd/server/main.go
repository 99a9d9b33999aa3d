package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/attribution-relay/internal/api"
	"github.com/ignite/attribution-relay/internal/attribution"
	"github.com/ignite/attribution-relay/internal/authgate"
	"github.com/ignite/attribution-relay/internal/capi"
	"github.com/ignite/attribution-relay/internal/config"
	"github.com/ignite/attribution-relay/internal/consent"
	"github.com/ignite/attribution-relay/internal/conversion"
	"github.com/ignite/attribution-relay/internal/pkg/retry"
	"github.com/ignite/attribution-relay/internal/profile"
	"github.com/ignite/attribution-relay/internal/telemetry"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Attribution Relay starting")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Pre-flight check: verify the target port is available
	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx := context.Background()

	// Device-local tier
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis unreachable at %s: %v", cfg.Redis.Addr, err)
	}
	devices := attribution.NewDeviceStore(redisClient, cfg.Attribution.DeviceRecordTTL())

	// Durable user records
	profiles, err := profile.NewClient(ctx, cfg.DynamoDB.TableName, cfg.DynamoDB.Region, cfg.DynamoDB.AWSProfile)
	if err != nil {
		log.Fatalf("Failed to initialize profile store: %v", err)
	}

	store := attribution.NewStore(devices, profiles)

	// External conversion events API
	sender := capi.NewClient(capi.Config{
		BaseURL:        cfg.Conversions.BaseURL,
		AppID:          cfg.Conversions.AppID,
		AccessToken:    cfg.Conversions.AccessToken,
		TimeoutSeconds: cfg.Conversions.TimeoutSeconds,
	})

	// Dispatch-outcome audit trail (optional)
	var audit *telemetry.Publisher
	if cfg.Telemetry.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Telemetry.AWSRegion))
		if err != nil {
			log.Fatalf("Failed to load AWS config for telemetry: %v", err)
		}
		audit = telemetry.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Telemetry.QueueURL)
		log.Println("Dispatch audit trail enabled")
	}

	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay())
	guard := conversion.NewGuard(profiles, devices)
	dispatcher := conversion.NewDispatcher(sender, guard, profiles, policy, audit)

	gate := authgate.NewGate(authgate.NewOAuthRefresher(
		cfg.Identity.ClientID,
		cfg.Identity.ClientSecret,
		cfg.Identity.TokenURL,
	))

	handler := api.NewHandler(store, dispatcher, consent.NewRecorder(profiles), gate)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}

	log.Println("Server stopped")
}
