package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderName         = "X-Client-ID"
	CookieName         = "client_id"
	clientIDContextKey = "client_id"
	cookieMaxAge       = 30 * 24 * 60 * 60
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// Middleware identifies the calling client from the X-Client-ID header or the
// client_id cookie, issuing a new id in a cookie when neither is present.
// It does not authenticate anyone.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := extractID(c)
		if id == "" {
			fresh, err := generateToken()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not issue client id"})
				return
			}
			id = fresh
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, id, cookieMaxAge, "/", "", false, true)
		}
		c.Set(clientIDContextKey, id)
		c.Next()
	}
}

// IDFromContext returns the client id stored by Middleware.
func IDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(clientIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

func extractID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(HeaderName)); validID.MatchString(id) {
		return id
	}
	if id, err := c.Cookie(CookieName); err == nil && validID.MatchString(id) {
		return id
	}
	return ""
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
