package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/miguel-bm/slidechat/internal/config"
)

const (
	sessionCookieName = "slidechat_session"
	tokenSubject      = "user"
	minPasswordLength = 8
)

var errAlreadySetup = errors.New("already setup")

type AuthService struct {
	configPath string
	jwtSecret  []byte
	tokenTTL   time.Duration
}

// Session is an authenticated caller, resolved from a bearer token or the
// session cookie.
type Session struct {
	Subject   string    `json:"user"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type contextKey string

const sessionContextKey contextKey = "session"

// NewAuthService keeps the password hash in the config file at configPath and
// the token signing secret in a .jwt_secret file next to it.
func NewAuthService(configPath string, tokenTTL time.Duration) (*AuthService, error) {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	secret, err := loadOrCreateSecret(filepath.Join(filepath.Dir(configPath), ".jwt_secret"))
	if err != nil {
		return nil, err
	}
	return &AuthService{
		configPath: configPath,
		jwtSecret:  secret,
		tokenTTL:   tokenTTL,
	}, nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		decoded, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr == nil && len(decoded) >= 32 {
			return decoded, nil
		}
		slog.Warn("corrupt jwt secret file, regenerating", "path", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read jwt secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("write jwt secret: %w", err)
	}
	return secret, nil
}

func (a *AuthService) passwordHash() string {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		slog.Error("failed to load config for auth", "path", a.configPath, "error", err)
		return ""
	}
	return cfg.Auth.PasswordHash
}

func (a *AuthService) savePasswordHash(hash []byte) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.Auth.PasswordHash = string(hash)
	return config.Save(a.configPath, cfg)
}

func (a *AuthService) IsSetup() bool {
	return a.passwordHash() != ""
}

func (a *AuthService) Setup(password string) error {
	if a.IsSetup() {
		return errAlreadySetup
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.savePasswordHash(hash)
}

// ChangePassword hashes the new password and saves it to the config file.
func (a *AuthService) ChangePassword(newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.savePasswordHash(hash)
}

func (a *AuthService) ValidatePassword(password string) bool {
	hash := a.passwordHash()
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (a *AuthService) GenerateToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken returns the session carried by a token, or nil when the token
// is malformed, expired or signed with another key.
func (a *AuthService) ValidateToken(tokenString string) *Session {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Subject != tokenSubject {
		return nil
	}

	session := &Session{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}

// SessionFromHeaders resolves the session from an "Authorization: Bearer"
// header, falling back to the session cookie. It returns nil when neither
// carries a valid token.
func (a *AuthService) SessionFromHeaders(h http.Header) *Session {
	if auth := h.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return nil
		}
		return a.ValidateToken(strings.TrimSpace(token))
	}

	req := http.Request{Header: h}
	cookie, err := req.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return a.ValidateToken(cookie.Value)
}

func sessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey).(*Session)
	return session
}

// loginRateLimiter tracks failed auth attempts per IP.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time // IP → timestamps of recent failures
	window   time.Duration
	max      int
}

func newLoginRateLimiter(max int, window time.Duration) *loginRateLimiter {
	return &loginRateLimiter{
		attempts: make(map[string][]time.Time),
		window:   window,
		max:      max,
	}
}

// allow returns true if the IP has not exceeded the rate limit.
func (rl *loginRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)

	// Prune old entries
	recent := rl.attempts[ip][:0]
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(rl.attempts, ip)
	} else {
		rl.attempts[ip] = recent
	}

	return len(recent) < rl.max
}

// record adds a failed attempt for the IP.
func (rl *loginRateLimiter) record(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.attempts[ip] = append(rl.attempts[ip], time.Now())
}

// reset clears attempts for the IP (called on successful login).
func (rl *loginRateLimiter) reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// clientIP extracts the real client IP. Reverse-proxy headers
// (CF-Connecting-IP, then the first valid X-Forwarded-For entry) are only
// honored when the direct peer is a trusted proxy: loopback, a private
// network, or one of the extra prefixes.
func clientIP(r *http.Request, trusted ...netip.Prefix) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	peer, err := netip.ParseAddr(remote)
	if err != nil || !isTrustedProxy(peer, trusted) {
		return remote
	}

	if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))); err == nil {
		return ip.String()
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, entry := range strings.Split(xff, ",") {
			if ip, err := netip.ParseAddr(strings.TrimSpace(entry)); err == nil {
				return ip.String()
			}
		}
	}
	return remote
}

func isTrustedProxy(addr netip.Addr, extra []netip.Prefix) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() {
		return true
	}
	for _, p := range extra {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return clientIP(r, s.trustedProxies...)
}

// HTTP Handlers

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.auth.SessionFromHeaders(r.Header)
		if session == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// issueSession generates a token, sets it as the session cookie and returns
// it in the body for clients that prefer bearer auth.
func (s *Server) issueSession(w http.ResponseWriter, r *http.Request) {
	token, err := s.auth.GenerateToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.auth.tokenTTL / time.Second),
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
	})
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	// passkeys tells the login page whether offering a passkey can succeed.
	passkeys := false
	if s.webauthn != nil {
		n, err := s.db.CountPasskeys()
		if err != nil {
			slog.Warn("count passkeys", "error", err)
		}
		passkeys = n > 0
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"setup":    s.auth.IsSetup(),
		"passkeys": passkeys,
	})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if !s.authLimiter.allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	var input struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if input.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if len(input.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	if err := s.auth.Setup(input.Password); err != nil {
		if errors.Is(err, errAlreadySetup) {
			s.authLimiter.record(ip)
			writeError(w, http.StatusConflict, "already setup")
			return
		}
		slog.Error("auth setup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to setup")
		return
	}

	s.authLimiter.reset(ip)
	s.issueSession(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	if !s.authLimiter.allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	var input struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.auth.ValidatePassword(input.Password) {
		s.authLimiter.record(ip)
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	s.authLimiter.reset(ip)
	s.issueSession(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFromContext(r.Context()))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if input.CurrentPassword == "" || input.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current and new passwords are required")
		return
	}

	if len(input.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}

	if !s.auth.ValidatePassword(input.CurrentPassword) {
		writeError(w, http.StatusUnauthorized, "invalid current password")
		return
	}

	if err := s.auth.ChangePassword(input.NewPassword); err != nil {
		slog.Error("change password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
