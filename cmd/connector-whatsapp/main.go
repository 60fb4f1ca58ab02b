// Command connector-whatsapp is the WhatsApp Cloud API connector entry
// point. It wires configuration, the dedupe store, the capability
// registry, the inbound pipeline, the outbound processor and the HTTP
// server, generalized from the teacher's cmd/server/main.go staged
// "[N/6] ..." boot sequence and Redis retry-connect helper
// (connectRedis), trimmed of the teacher's MariaDB stage since this
// runtime persists nothing past the dedupe TTL.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fortescwb/connectors/internal/adapters/dedupe"
	"github.com/fortescwb/connectors/internal/adapters/provider"
	"github.com/fortescwb/connectors/internal/adapters/ratelimit"
	"github.com/fortescwb/connectors/internal/config"
	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
	"github.com/fortescwb/connectors/internal/core/services"
	"github.com/fortescwb/connectors/internal/diagnostics"
	"github.com/fortescwb/connectors/internal/httpapi"
	"github.com/fortescwb/connectors/internal/manifest"
	"github.com/fortescwb/connectors/internal/platform/whatsapp"
)

func main() {
	fmt.Println("=== WhatsApp Connector: Infrastructure Initialization ===")

	fmt.Println("[1/6] Loading configuration...")
	cfg, err := config.Load("whatsapp")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	baseLogger := services.NewLogger(slog.Default())
	fmt.Printf("config loaded (environment=%s, connector=%s)\n", cfg.Environment, manifest.WhatsApp.ConnectorID)

	fmt.Println("[2/6] Connecting to dedupe store...")
	inboundDedupeStore := connectInboundDedupeStore(cfg)
	outboundDedupeStore := connectOutboundDedupeStore(cfg)
	fmt.Println("dedupe store(s) reachable")

	fmt.Println("[3/6] Initializing metrics and diagnostics...")
	registry := prometheus.NewRegistry()
	metrics := services.NewPromMetrics(registry, manifest.WhatsApp.ConnectorID)
	snap := diagnostics.Capture(context.Background())
	baseLogger.Info("Boot diagnostics", "cpuPercent", snap.CPUPercent, "ramPercent", snap.RAMPercent, "diskPercent", snap.DiskPercent)

	fmt.Println("[4/6] Wiring inbound pipeline...")
	rateLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	capabilityRegistry := services.NewRegistry(map[domain.Capability]ports.Handler{
		domain.CapabilityInboundMessages:      handleInboundMessage,
		domain.CapabilityMessageStatusUpdates: handleStatusUpdate,
	})

	pipelineCfg := services.PipelineConfig{
		ConnectorID: manifest.WhatsApp.ConnectorID,
		ServiceName: "connector-whatsapp",
		DedupeTTL:   cfg.DedupeTTL,
		FailMode:    ports.FailClosed,
	}
	pipeline := services.NewInboundPipeline(
		pipelineCfg,
		inboundDedupeStore,
		services.NewHMACSignatureVerifier(cfg.WebhookSecret),
		services.NewSubscriptionVerifier(cfg.VerifyToken),
		whatsapp.NewParser(),
		capabilityRegistry,
		rateLimiter,
		metrics,
		baseLogger,
	)

	fmt.Println("[5/6] Wiring outbound processor...")
	sender := provider.NewGraphClient("", cfg.GraphAPIVersion, func(tenantID string) (string, error) {
		if cfg.GraphAccessToken == "" {
			return "", fmt.Errorf("no access token configured for tenant %s", tenantID)
		}
		return cfg.GraphAccessToken, nil
	})
	outboundCfg := services.OutboundConfig{
		ConnectorID: manifest.WhatsApp.ConnectorID,
		DedupeTTL:   cfg.DedupeTTL,
		FailMode:    ports.FailClosed,
	}
	outboundProcessor := services.NewOutboundProcessor(outboundCfg, outboundDedupeStore, sender, metrics, baseLogger)

	fmt.Println("[6/6] Starting HTTP server...")
	stagingEnabled := cfg.Environment == config.EnvStaging
	server := httpapi.NewServer(manifest.WhatsApp.ConnectorID, pipeline, outboundProcessor, cfg.StagingOutboundToken, stagingEnabled, baseLogger)

	mux := server.Routes()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("listening on %s (webhook=%s health=%s)\n", addr, manifest.WhatsApp.WebhookPath, manifest.WhatsApp.HealthPath)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// connectInboundDedupeStore resolves the inbound dedupe store adapter
// and, in staging/production, aborts startup if it cannot be reached
// within the configured ping timeout (spec.md §8 "Fail-closed boot").
// Mirrors the teacher's connectRedis retry helper (cmd/server/main.go)
// but fails fast rather than retrying indefinitely, since a dead
// dedupe store at boot is a deployment error, not a transient one.
//
// Development may downgrade to the in-memory store (spec.md §5: "only
// for inbound; outbound always requires the distributed store").
func connectInboundDedupeStore(cfg *config.Config) ports.DedupeStore {
	if cfg.RedisURL == "" {
		log.Printf("WARNING: REDIS_URL not set, downgrading inbound dedupe to an in-memory store (development only, not safe across restarts or multiple instances)")
		return dedupe.NewMemoryStore()
	}
	return connectRedisDedupeStore(cfg, "whatsapp:dedupe:", cfg.Environment.RequiresFailClosedBoot())
}

// connectOutboundDedupeStore always requires the distributed store,
// regardless of environment (spec.md §5): an in-memory outbound dedupe
// store cannot guarantee at-most-one delivery across restarts or
// horizontal scale-out, which is the entire point of the outbound
// processor.
func connectOutboundDedupeStore(cfg *config.Config) ports.DedupeStore {
	if cfg.RedisURL == "" {
		log.Fatalf("REDIS_URL is required for outbound dedupe in every environment, aborting startup")
	}
	return connectRedisDedupeStore(cfg, "whatsapp:outbound-dedupe:", true)
}

func connectRedisDedupeStore(cfg *config.Config, keyPrefix string, pingAtBoot bool) ports.DedupeStore {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	store := dedupe.NewRedisStore(client, keyPrefix)

	if pingAtBoot {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.BootPingTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Fatalf("dedupe store unreachable at boot, aborting startup: %v", err)
		}
	}
	return store
}

// handleInboundMessage is the default capability handler: it logs the
// parsed message at info level. A production deployment would forward
// this to a conversation service; the connector core's job ends at
// dispatch (spec.md §3 "Ownership").
func handleInboundMessage(ctx context.Context, payload any, hctx ports.HandlerContext) error {
	msg, ok := payload.(whatsapp.InboundMessage)
	if !ok {
		return fmt.Errorf("unexpected payload type for inbound message capability")
	}
	hctx.Logger.Info("Inbound WhatsApp message", "kind", msg.Kind, "hasText", msg.Text != "")
	return nil
}

func handleStatusUpdate(ctx context.Context, payload any, hctx ports.HandlerContext) error {
	status, ok := payload.(whatsapp.StatusUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload type for status update capability")
	}
	hctx.Logger.Info("WhatsApp message status update", "status", status.Status)
	return nil
}
