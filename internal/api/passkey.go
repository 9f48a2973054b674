package api

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/miguel-bm/slidechat/internal/db"
)

const (
	ceremonyTTL         = 5 * time.Minute
	ceremonyCookieName  = "slidechat_passkey"
	ceremonyCookiePath  = "/api/auth/passkey"
	maxPasskeyNameRunes = 64

	ceremonyRegister = "register"
	ceremonyLogin    = "login"
)

// passkeyUserHandle identifies the single slidechat account to authenticators.
var passkeyUserHandle = []byte("slidechat")

var errUnknownUserHandle = errors.New("passkey belongs to another account")

// passkeyOwner is the slidechat account as seen by go-webauthn, with its
// credentials loaded up front for one ceremony.
type passkeyOwner struct {
	credentials []webauthn.Credential
}

func (o *passkeyOwner) WebAuthnID() []byte                         { return passkeyUserHandle }
func (o *passkeyOwner) WebAuthnName() string                       { return "slidechat" }
func (o *passkeyOwner) WebAuthnDisplayName() string                { return "Slidechat" }
func (o *passkeyOwner) WebAuthnCredentials() []webauthn.Credential { return o.credentials }

func (o *passkeyOwner) exclusions() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(o.credentials))
	for _, c := range o.credentials {
		out = append(out, c.Descriptor())
	}
	return out
}

func (s *Server) loadPasskeyOwner() (*passkeyOwner, error) {
	passkeys, err := s.db.ListPasskeys()
	if err != nil {
		return nil, err
	}
	owner := &passkeyOwner{credentials: make([]webauthn.Credential, 0, len(passkeys))}
	for _, p := range passkeys {
		owner.credentials = append(owner.credentials, credentialFromPasskey(p))
	}
	return owner, nil
}

func credentialFromPasskey(p *db.Passkey) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(p.Transports))
	for _, t := range p.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              p.CredentialID,
		PublicKey:       p.PublicKey,
		AttestationType: p.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: p.BackupEligible,
			BackupState:    p.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    p.AAGUID,
			SignCount: p.SignCount,
		},
	}
}

func passkeyFromCredential(c *webauthn.Credential, name string) *db.Passkey {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	return &db.Passkey{
		Name:            name,
		CredentialID:    c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		AAGUID:          c.Authenticator.AAGUID,
		SignCount:       c.Authenticator.SignCount,
		Transports:      transports,
		BackupEligible:  c.Flags.BackupEligible,
		BackupState:     c.Flags.BackupState,
	}
}

// ceremonyStore keeps in-flight WebAuthn ceremonies. Each one is addressed by
// a random id that travels in the ceremony cookie, so ceremonies from
// different browsers never replace each other.
type ceremonyStore struct {
	mu      sync.Mutex
	entries map[string]ceremony
	ttl     time.Duration
	now     func() time.Time
}

type ceremony struct {
	kind    string
	data    *webauthn.SessionData
	expires time.Time
}

func newCeremonyStore(ttl time.Duration) *ceremonyStore {
	return &ceremonyStore{
		entries: make(map[string]ceremony),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Begin stores data and returns the id of the new ceremony.
func (cs *ceremonyStore) Begin(kind string, data *webauthn.SessionData) (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	id := hex.EncodeToString(raw[:])

	cs.mu.Lock()
	defer cs.mu.Unlock()
	now := cs.now()
	for k, c := range cs.entries {
		if now.After(c.expires) {
			delete(cs.entries, k)
		}
	}
	cs.entries[id] = ceremony{kind: kind, data: data, expires: now.Add(cs.ttl)}
	return id, nil
}

// Take removes the ceremony and returns its data when it exists, is of the
// given kind and has not expired.
func (cs *ceremonyStore) Take(id, kind string) *webauthn.SessionData {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.entries[id]
	if !ok {
		return nil
	}
	delete(cs.entries, id)
	if c.kind != kind || cs.now().After(c.expires) {
		return nil
	}
	return c.data
}

func (s *Server) startCeremony(w http.ResponseWriter, r *http.Request, kind string, data *webauthn.SessionData, options any) {
	id, err := s.ceremonies.Begin(kind, data)
	if err != nil {
		slog.Error("passkey ceremony id", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to begin passkey "+kind)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookieName,
		Value:    id,
		Path:     ceremonyCookiePath,
		MaxAge:   int(s.ceremonies.ttl / time.Second),
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, options)
}

// finishCeremony consumes the ceremony named by the request's cookie and
// clears the cookie. It returns nil when there is nothing to finish.
func (s *Server) finishCeremony(w http.ResponseWriter, r *http.Request, kind string) *webauthn.SessionData {
	cookie, err := r.Cookie(ceremonyCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookieName,
		Path:     ceremonyCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
	return s.ceremonies.Take(cookie.Value, kind)
}

func (s *Server) requirePasskeys(w http.ResponseWriter) bool {
	if s.webauthn == nil {
		writeError(w, http.StatusNotFound, "passkeys not configured (set auth.rp_id in config)")
		return false
	}
	return true
}

// passkeyName normalizes a user supplied label; "" means invalid.
func passkeyName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxPasskeyNameRunes {
		return ""
	}
	return name
}

func (s *Server) handlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if !s.requirePasskeys(w) {
		return
	}
	owner, err := s.loadPasskeyOwner()
	if err != nil {
		slog.Error("load passkeys", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load passkeys")
		return
	}

	creation, data, err := s.webauthn.BeginRegistration(owner,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithExclusions(owner.exclusions()),
	)
	if err != nil {
		slog.Error("passkey register begin failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to begin registration")
		return
	}
	s.startCeremony(w, r, ceremonyRegister, data, creation)
}

// handlePasskeyRegisterFinish verifies the attestation and stores the
// credential. The label comes from ?name= and defaults to "Passkey".
func (s *Server) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if !s.requirePasskeys(w) {
		return
	}

	name := "Passkey"
	if q := r.URL.Query().Get("name"); q != "" {
		if name = passkeyName(q); name == "" {
			writeError(w, http.StatusBadRequest, "invalid passkey name")
			return
		}
	}

	data := s.finishCeremony(w, r, ceremonyRegister)
	if data == nil {
		writeError(w, http.StatusBadRequest, "no registration in progress or challenge expired")
		return
	}
	owner, err := s.loadPasskeyOwner()
	if err != nil {
		slog.Error("load passkeys", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load passkeys")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	cred, err := s.webauthn.FinishRegistration(owner, *data, r)
	if err != nil {
		slog.Warn("passkey registration rejected", "error", err)
		writeError(w, http.StatusBadRequest, "registration verification failed")
		return
	}

	passkey := passkeyFromCredential(cred, name)
	if err := s.db.CreatePasskey(passkey); err != nil {
		slog.Error("failed to save passkey", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save passkey")
		return
	}
	slog.Info("passkey registered", "passkey_id", passkey.ID)
	writeJSON(w, http.StatusCreated, passkey)
}

func (s *Server) handlePasskeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	if !s.requirePasskeys(w) {
		return
	}
	if !s.authLimiter.allow(s.clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	assertion, data, err := s.webauthn.BeginDiscoverableLogin()
	if err != nil {
		slog.Error("passkey login begin failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to begin login")
		return
	}
	s.startCeremony(w, r, ceremonyLogin, data, assertion)
}

// handlePasskeyLoginFinish verifies the assertion and issues the same session
// token and cookie as a password login. An authenticator whose signature
// counter went backwards is refused as a possible clone.
func (s *Server) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	if !s.requirePasskeys(w) {
		return
	}
	ip := s.clientIP(r)
	if !s.authLimiter.allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	data := s.finishCeremony(w, r, ceremonyLogin)
	if data == nil {
		s.authLimiter.record(ip)
		writeError(w, http.StatusBadRequest, "no login in progress or challenge expired")
		return
	}

	lookup := func(_, userHandle []byte) (webauthn.User, error) {
		if !bytes.Equal(userHandle, passkeyUserHandle) {
			return nil, errUnknownUserHandle
		}
		return s.loadPasskeyOwner()
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	_, cred, err := s.webauthn.FinishPasskeyLogin(lookup, *data, r)
	if err != nil {
		s.authLimiter.record(ip)
		slog.Warn("passkey login rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "passkey verification failed")
		return
	}
	if cred.Authenticator.CloneWarning {
		s.authLimiter.record(ip)
		slog.Warn("passkey signature counter regressed", "sign_count", cred.Authenticator.SignCount)
		writeError(w, http.StatusUnauthorized, "passkey verification failed")
		return
	}

	if err := s.db.TouchPasskey(cred.ID, cred.Authenticator.SignCount, cred.Flags.BackupState); err != nil {
		slog.Warn("failed to record passkey use", "error", err)
	}
	s.authLimiter.reset(ip)
	s.issueSession(w, r)
}

func (s *Server) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	passkeys, err := s.db.ListPasskeys()
	if err != nil {
		slog.Error("list passkeys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list passkeys")
		return
	}
	writeJSON(w, http.StatusOK, passkeys)
}

func (s *Server) handleRenamePasskey(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := passkeyName(input.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name must be 1 to 64 characters")
		return
	}

	if err := s.db.RenamePasskey(urlParam(r, "id"), name); err != nil {
		writeDBError(w, err, "passkey")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeletePasskey(urlParam(r, "id")); err != nil {
		writeDBError(w, err, "passkey")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
