// Copyright 2025 CoachCore
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plangen

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"coachcore/platform/config"
	"coachcore/platform/plangen/llm"
	"coachcore/platform/shared/logger"
)

type contextKey string

const (
	identityContextKey  contextKey = "identity"
	requestIDContextKey contextKey = "request_id"
)

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// RequestIDFromContext returns the request id assigned by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// requestIDMiddleware assigns a request id to every call.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type identityClaims struct {
	UserID   int    `json:"uid"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// authMiddleware parses the bearer token into the request identity.
// Requests without a valid token pass through unauthenticated; the gate
// rejects them with UNAUTHENTICATED so the denial taxonomy stays in one
// place.
func authMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			token, err := jwt.ParseWithClaims(
				strings.TrimPrefix(header, "Bearer "),
				&identityClaims{},
				func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
					}
					return secret, nil
				})
			if err != nil || !token.Valid {
				next.ServeHTTP(w, r)
				return
			}

			claims := token.Claims.(*identityClaims)
			identity := Identity{
				UserID:   claims.UserID,
				Role:     Role(claims.Role),
				TenantID: claims.TenantID,
				Email:    claims.Email,
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildProviders constructs the provider chain from configuration, in
// priority order. Credential resolution failures leave a provider
// unconfigured; the router traces it as such instead of failing startup.
func buildProviders(ctx context.Context, cfg *config.Config, log *logger.Logger) []llm.Provider {
	var providers []llm.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		apiKey := ""
		if pc.APIKeyRef != "" {
			sm, err := config.NewSecretsManagerForRef(ctx, pc.APIKeyRef, pc.Region)
			if err == nil {
				apiKey, err = sm.GetSecret(ctx, pc.APIKeyRef)
			}
			if err != nil {
				log.Warn("", "", "provider credential unavailable", map[string]interface{}{
					"provider": pc.Name,
					"error":    err.Error(),
				})
			}
		}

		switch strings.ToLower(pc.Name) {
		case "openai":
			providers = append(providers, llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey: apiKey, Model: pc.Model, BaseURL: pc.Endpoint,
			}))
		case "anthropic":
			providers = append(providers, llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey: apiKey, Model: pc.Model, BaseURL: pc.Endpoint,
			}))
		case "gemini":
			providers = append(providers, llm.NewGeminiProvider(llm.GeminiConfig{
				APIKey: apiKey, Model: pc.Model, BaseURL: pc.Endpoint,
			}))
		case "bedrock":
			p, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{
				Region: pc.Region, Model: pc.Model,
			})
			if err != nil {
				log.Warn("", "", "bedrock provider unavailable", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			providers = append(providers, p)
		default:
			log.Warn("", "", "unknown provider in config", map[string]interface{}{
				"provider": pc.Name,
			})
		}
	}
	return providers
}

// Run starts the plan-generation service and blocks.
func Run() {
	log := logger.New("plangen")
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Error("", "", "failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("", "", "failed to open database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Error("", "", "database unreachable", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store, err := NewPostgresStore(ctx, db)
	if err != nil {
		log.Error("", "", "failed to initialize store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	audit, err := NewAuditRecorder(ctx, db)
	if err != nil {
		log.Error("", "", "failed to initialize audit recorder", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	var limiter ConcurrencyLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("", "", "invalid redis url", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		limiter = NewRedisConcurrencyLimiter(redis.NewClient(opts), cfg.MaxConcurrentPerUser)
	} else {
		limiter = NewMemoryConcurrencyLimiter(cfg.MaxConcurrentPerUser)
	}

	metrics := NewPrometheusMetrics()
	router := llm.NewRouter(buildProviders(ctx, cfg, log),
		llm.WithTimeout(cfg.ProviderTimeout()),
		llm.WithTimeoutRetry(true),
		llm.WithAttemptObserver(metrics.RecordProviderAttempt),
		llm.WithLogger(logger.New("llm-router")),
	)

	pipeline := NewPipeline(PipelineDeps{
		Store:    store,
		Contexts: NewContextBuilder(store),
		Router:   router,
		Audit:    audit,
		Limiter:  limiter,
		Metrics:  metrics,
	})
	handlers := NewHandlers(pipeline, store, router)

	jwtSecret := ""
	if cfg.JWTSecretRef != "" {
		sm, err := config.NewSecretsManagerForRef(ctx, cfg.JWTSecretRef, "")
		if err == nil {
			jwtSecret, err = sm.GetSecret(ctx, cfg.JWTSecretRef)
		}
		if err != nil {
			log.Error("", "", "failed to resolve JWT secret", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JWT_SECRET")
	}
	if jwtSecret == "" {
		log.Error("", "", "JWT secret is required", nil)
		os.Exit(1)
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(authMiddleware([]byte(jwtSecret)))

	r.HandleFunc("/health", handlers.HandleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/clients/{id:[0-9]+}/plans/generate", handlers.HandleGenerate).Methods("POST")
	api.HandleFunc("/clients/{id:[0-9]+}/ai-consent", handlers.HandleConsentStatus).Methods("GET")
	api.HandleFunc("/clients/{id:[0-9]+}/ai-consent/grant", handlers.HandleConsentGrant).Methods("POST")
	api.HandleFunc("/clients/{id:[0-9]+}/ai-consent/withdraw", handlers.HandleConsentWithdraw).Methods("POST")
	api.HandleFunc("/providers/status", handlers.HandleProviderStatus).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("", "", "plangen service listening", map[string]interface{}{
		"addr":      addr,
		"providers": len(router.Providers()),
	})
	if err := http.ListenAndServe(addr, corsHandler.Handler(r)); err != nil {
		log.Error("", "", "server exited", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
