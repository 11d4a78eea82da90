package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/autherr"
	"github.com/example/face-auth/internal/repository"
)

// CookieName is the session cookie carrying the opaque token.
const CookieName = "session_token"

type contextKey string

const userKey contextKey = "authUser"

// UserResolver resolves a session token to its owner.
type UserResolver interface {
	ResolveUser(ctx context.Context, token string) (*repository.User, error)
}

// GetUser retrieves the authenticated user from context.
func GetUser(ctx context.Context) (*repository.User, bool) {
	if ctx == nil {
		return nil, false
	}
	if user, ok := ctx.Value(userKey).(*repository.User); ok && user != nil {
		return user, true
	}
	return nil, false
}

// TokenFromRequest returns the session token cookie value, or "".
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SessionMiddleware requires a live session cookie and injects its user.
func SessionMiddleware(resolver UserResolver, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("auth")

	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			unauthorized(c, "not authenticated")
			return
		}

		user, err := resolver.ResolveUser(c.Request.Context(), token)
		if errors.Is(err, autherr.ErrNotAuthenticated) {
			unauthorized(c, "not authenticated")
			return
		}
		if err != nil {
			logger.Error("session lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
				"kind":    autherr.KindInternal,
				"message": autherr.MessageOf(err),
			}})
			return
		}

		ctx := context.WithValue(c.Request.Context(), userKey, user)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(userKey), user)

		c.Next()
	}
}

// CookieOptions controls how the session cookie is written.
type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// SetCookie issues the session cookie. It is always HttpOnly.
func SetCookie(w http.ResponseWriter, token string, expiresAt time.Time, opts CookieOptions) {
	opts = opts.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearCookie expires the session cookie on the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
		"kind":    autherr.KindNotAuthenticated,
		"message": message,
	}})
}
