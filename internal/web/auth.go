package web

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"confsite/internal/config"
	"confsite/internal/model"

	"go.uber.org/zap"
)

const sessionCookieName = "confsite_session"

const magicLinkTTL = 15 * time.Minute

type signedPayload struct {
	Exp int64  `json:"exp"`
	Sub string `json:"sub"`           // admin id or email
	Typ string `json:"typ,omitempty"` // "session"|"magic"
	N   string `json:"n,omitempty"`   // nonce
}

func secretKeyPath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "web", "secret.key")
}

func loadOrInitSecretKey(dataDir string) ([]byte, error) {
	path := secretKeyPath(dataDir)
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return []byte(strings.TrimSpace(string(b))), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	enc := base64.RawURLEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(enc+"\n"), 0o600); err != nil {
		return nil, err
	}
	return []byte(enc), nil
}

func signToken(secret []byte, payload signedPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	p := base64.RawURLEncoding.EncodeToString(b)
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(p))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return p + "." + sig, nil
}

func verifyToken(secret []byte, token string) (signedPayload, error) {
	p, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || strings.Contains(sig, ".") {
		return signedPayload{}, errors.New("invalid token format")
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(p))
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(mac.Sum(nil), got) {
		return signedPayload{}, errors.New("invalid token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return signedPayload{}, errors.New("invalid token payload")
	}
	var sp signedPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return signedPayload{}, errors.New("invalid token payload")
	}
	switch {
	case sp.Exp == 0:
		return signedPayload{}, errors.New("token missing exp")
	case time.Now().Unix() > sp.Exp:
		return signedPayload{}, errors.New("token expired")
	case strings.TrimSpace(sp.Sub) == "":
		return signedPayload{}, errors.New("token missing sub")
	}
	return sp, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newToken(secret []byte, typ, sub string, ttl time.Duration) (string, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "", fmt.Errorf("missing %s subject", typ)
	}
	n, err := newNonce()
	if err != nil {
		return "", err
	}
	return signToken(secret, signedPayload{Typ: typ, Sub: sub, N: n, Exp: time.Now().Add(ttl).Unix()})
}

func writeOutboxEmail(dataDir, to, subject, body string) (string, error) {
	outDir := filepath.Join(filepath.Clean(dataDir), "web", "outbox")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	safeTo := strings.NewReplacer("@", "_at_", "/", "_").Replace(strings.ToLower(strings.TrimSpace(to)))
	path := filepath.Join(outDir, fmt.Sprintf("%s_%s.txt", ts, safeTo))
	msg := fmt.Sprintf("TO: %s\nSUBJECT: %s\n\n%s\n", strings.TrimSpace(to), strings.TrimSpace(subject), strings.TrimSpace(body))
	return path, os.WriteFile(path, []byte(msg), 0o600)
}

// syncConfigAdmins makes every admin listed in the config file a row in the store.
func (s *Server) syncConfigAdmins(ctx context.Context) error {
	for email, name := range s.cfg.Site.Admins {
		if _, err := s.cfg.Store.AdminByEmail(ctx, email); err == nil {
			continue
		}
		if _, err := s.cfg.Store.AddAdmin(ctx, "config", email, name); err != nil {
			return fmt.Errorf("config admin %s: %w", email, err)
		}
	}
	return nil
}

// actorForRequest returns the signed-in admin id, or "" for visitors.
func (s *Server) actorForRequest(r *http.Request) string {
	if s.cfg.ActorID != "" {
		return s.cfg.ActorID
	}
	if s.cfg.AuthMode == config.AuthNone {
		return "local"
	}
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	sp, err := verifyToken(s.secret, c.Value)
	if err != nil || sp.Typ != "session" {
		return ""
	}
	if _, err := s.cfg.Store.AdminByID(r.Context(), sp.Sub); err != nil {
		return ""
	}
	return strings.TrimSpace(sp.Sub)
}

// requireAdmin writes the unauthenticated response itself when ok is false.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := s.actorForRequest(r)
	if actor != "" {
		return actor, true
	}
	if r.Method == http.MethodGet && !strings.HasPrefix(r.URL.Path, "/api/") && r.Header.Get("Datastar-Request") == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return "", false
	}
	http.Error(w, "sign in required", http.StatusUnauthorized)
	return "", false
}

func (s *Server) setSession(w http.ResponseWriter, adminID string) error {
	ttl, err := s.cfg.Site.SessionTTL()
	if err != nil {
		return err
	}
	sess, err := newToken(s.secret, "session", adminID, ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type loginVM struct {
	baseVM
	Admins []model.Admin
	Email  string
	Link   string
	Sent   bool
	Error  string
}

func (s *Server) handleLoginGet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthMode == config.AuthNone {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	vm := loginVM{baseVM: s.baseVMForRequest(r, "Sign in")}
	if s.cfg.AuthMode == config.AuthDev {
		admins, err := s.cfg.Store.ListAdmins(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		vm.Admins = admins
	}
	s.writeHTMLTemplate(w, http.StatusOK, "login.html", vm)
}

func (s *Server) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthMode == config.AuthNone {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vm := loginVM{baseVM: s.baseVMForRequest(r, "Sign in")}

	if s.cfg.AuthMode == config.AuthDev {
		id := strings.TrimSpace(r.Form.Get("admin"))
		if _, err := s.cfg.Store.AdminByID(r.Context(), id); err != nil {
			vm.Admins, _ = s.cfg.Store.ListAdmins(r.Context())
			vm.Error = "unknown admin"
			s.writeHTMLTemplate(w, http.StatusForbidden, "login.html", vm)
			return
		}
		if err := s.setSession(w, id); err != nil {
			s.writeError(w, r, err)
			return
		}
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.Form.Get("email")))
	vm.Email = email
	if _, err := s.cfg.Store.AdminByEmail(r.Context(), email); err != nil {
		vm.Error = "that email is not on the organizer list"
		s.writeHTMLTemplate(w, http.StatusForbidden, "login.html", vm)
		return
	}
	tok, err := newToken(s.secret, "magic", email, magicLinkTTL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base := strings.TrimRight(s.cfg.Site.Server.BaseURL, "/")
	if base == "" {
		base = "http://" + r.Host
	}
	link := base + "/verify?token=" + tok
	path, err := writeOutboxEmail(s.cfg.Dir, email, s.cfg.Site.Site.Title+" sign-in link", link)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("magic link written", zap.String("email", email), zap.String("outbox", path))
	vm.Sent = true
	s.writeHTMLTemplate(w, http.StatusOK, "login.html", vm)
}

func (s *Server) handleVerifyGet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthMode != config.AuthMagic {
		http.NotFound(w, r)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	sp, err := verifyToken(s.secret, token)
	if err != nil || sp.Typ != "magic" {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	a, err := s.cfg.Store.AdminByEmail(r.Context(), sp.Sub)
	if err != nil {
		http.Error(w, "email is not on the organizer list", http.StatusForbidden)
		return
	}
	if err := s.setSession(w, a.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) handleLogoutPost(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

