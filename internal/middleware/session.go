package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
)

const DefaultCookieName = "tfa_session"

type contextKey struct{}

var sessionIDKey = contextKey{}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string
	// Secret signs the cookie value when set.
	Secret string
	Secure bool
	MaxAge time.Duration
}

// Sessions hands out opaque session ids carried in an HttpOnly cookie.
// It keeps no state of its own.
type Sessions struct {
	cfg SessionConfig
	log *logging.Logger
}

// NewSessions creates the session credential manager.
func NewSessions(cfg SessionConfig, log *logging.Logger) *Sessions {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Sessions{cfg: cfg, log: log}
}

// ResolveOrCreate returns the id carried by the request's cookie, or mints a
// new one and sets the cookie on w.
func (s *Sessions) ResolveOrCreate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(s.cfg.CookieName); err == nil {
		if id, ok := s.verify(cookie.Value); ok {
			return id, false
		}
		s.log.Debug().Msg("rejected session cookie, issuing a new one")
	}

	id := uuid.NewString()
	http.SetCookie(w, s.cookie(s.sign(id), s.cfg.MaxAge))
	return id, true
}

// Middleware resolves the session id once per request and stores it in the
// request context.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := s.ResolveOrCreate(w, r)
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
	})
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	c := s.cookie("", 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

// SessionID returns the id stored by Middleware, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// WithSessionID stores id in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func (s *Sessions) cookie(value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
	}
	return c
}

func (s *Sessions) sign(id string) string {
	if s.cfg.Secret == "" {
		return id
	}
	return id + "." + s.mac(id)
}

func (s *Sessions) verify(value string) (string, bool) {
	id := value
	if s.cfg.Secret != "" {
		dot := strings.LastIndexByte(value, '.')
		if dot < 0 {
			return "", false
		}
		id = value[:dot]
		if !hmac.Equal([]byte(value[dot+1:]), []byte(s.mac(id))) {
			return "", false
		}
	}

	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return "", false
	}
	return id, true
}

func (s *Sessions) mac(id string) string {
	h := hmac.New(sha256.New, []byte(s.cfg.Secret))
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
