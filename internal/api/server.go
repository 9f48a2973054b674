package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/miguel-bm/slidechat/internal/config"
	"github.com/miguel-bm/slidechat/internal/db"
	"github.com/miguel-bm/slidechat/internal/storage"
	"github.com/miguel-bm/slidechat/internal/uistream"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxChatBodyBytes = 8 << 20
)

// isAllowedOrigin checks whether an origin matches the allowed list.
// Supports the "http://localhost:*" wildcard pattern (any port on that host).
func isAllowedOrigin(allowedOrigins []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
		if strings.HasSuffix(allowed, ":*") {
			prefix := strings.TrimSuffix(allowed, ":*")
			parsed, err := url.Parse(origin)
			if err != nil {
				continue
			}
			// Rebuild without port to compare scheme+host.
			withoutPort := parsed.Scheme + "://" + parsed.Hostname()
			if withoutPort == prefix {
				return true
			}
		}
	}
	return false
}

type Server struct {
	db             *db.DB
	store          storage.Store
	auth           *AuthService
	chat           *uistream.Adapter
	webauthn       *webauthn.WebAuthn
	ceremonies     *ceremonyStore
	router         chi.Router
	httpServer     *http.Server
	authLimiter    *loginRateLimiter
	allowedOrigins []string
	trustedProxies []netip.Prefix
	requestTimeout time.Duration
	maxUploadBytes int64
	publicURL      string
}

// NewServer wires the HTTP API. configPath is the file the auth setup flow
// writes the password hash to.
func NewServer(cfg *config.Config, configPath string, database *db.DB, store storage.Store, chat *uistream.Adapter) (*Server, error) {
	auth, err := NewAuthService(configPath, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	proxies, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:             database,
		store:          store,
		auth:           auth,
		chat:           chat,
		ceremonies:     newCeremonyStore(ceremonyTTL),
		authLimiter:    newLoginRateLimiter(5, 1*time.Minute),
		allowedOrigins: cfg.Server.AllowedOrigins,
		trustedProxies: proxies,
		requestTimeout: cfg.Agent.RequestTimeout,
		maxUploadBytes: cfg.Storage.MaxUploadBytes,
		publicURL:      strings.TrimSuffix(cfg.Server.PublicURL, "/"),
	}

	if cfg.Auth.RPID != "" {
		wa, err := webauthn.New(&webauthn.Config{
			RPID:          cfg.Auth.RPID,
			RPDisplayName: "Slidechat",
			RPOrigins:     cfg.Auth.RPOrigins,
		})
		if err != nil {
			return nil, fmt.Errorf("configure passkeys: %w", err)
		}
		s.webauthn = wa
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", uistream.HeaderUIMessageStream},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Public routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/auth/status", s.handleAuthStatus)
	r.Post("/api/auth/setup", s.handleSetup)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)
	r.Post("/api/auth/passkey/login/begin", s.handlePasskeyLoginBegin)
	r.Post("/api/auth/passkey/login/finish", s.handlePasskeyLoginFinish)
	r.Get("/api/ai/schema", s.handleChatSchema)

	// Deck bytes are addressed by an unguessable UUID so external viewers can fetch them.
	r.Get("/api/presentations/{id}/file", s.handlePresentationFile)

	// WebSocket (auth handled in handshake)
	r.Get("/ws/ai", s.handleChatWS)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Auth
		r.Get("/api/auth/me", s.handleMe)
		r.Post("/api/auth/change-password", s.handleChangePassword)

		// Passkeys
		r.Post("/api/auth/passkey/register/begin", s.handlePasskeyRegisterBegin)
		r.Post("/api/auth/passkey/register/finish", s.handlePasskeyRegisterFinish)
		r.Get("/api/auth/passkeys", s.handleListPasskeys)
		r.Patch("/api/auth/passkeys/{id}", s.handleRenamePasskey)
		r.Delete("/api/auth/passkeys/{id}", s.handleDeletePasskey)

		// Uploads and presentations
		r.Post("/api/uploads", s.handleUpload)
		r.Get("/api/presentations", s.handleListPresentations)
		r.Post("/api/presentations", s.handleCreatePresentation)
		r.Get("/api/presentations/{id}", s.handleGetPresentation)
		r.Delete("/api/presentations/{id}", s.handleDeletePresentation)
		r.Get("/api/presentations/{id}/viewer", s.handlePresentationViewer)

		// Chat
		r.Post("/api/ai", s.handleChat)
	})

	s.router = r
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// Response helpers

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeDBError(w http.ResponseWriter, err error, entity string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, entity+" not found")
	case errors.Is(err, db.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid "+entity+" id")
	default:
		slog.Error("database error", "entity", entity, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get "+entity)
	}
}

// decodeJSON decodes a single JSON object from the request body, rejecting
// unknown fields, trailing data and bodies over maxJSONBodyBytes.
func decodeJSON(r *http.Request, v any) error {
	return decodeJSONLimit(r, v, maxJSONBodyBytes)
}

func decodeJSONLimit(r *http.Request, v any, limit int64) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.InputOffset() > limit {
		return fmt.Errorf("request body exceeds %d bytes", limit)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// URL parameter helper
func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
