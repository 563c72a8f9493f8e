// utils/auth.go
package utils

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SessionCookie is the cookie carrying the session token
const SessionCookie = "token"

var ErrMalformedLinkToken = errors.New("malformed login token")

// Claims of a portal session token
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues a signed session token for a user
func GenerateToken(userID uuid.UUID, role, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT secret not set")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a session token and returns its claims
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// AccountLookup reports the stored role of a user and whether the account may
// still sign in. A missing user is reported as inactive.
type AccountLookup func(ctx context.Context, userID uuid.UUID) (role string, active bool, err error)

// AuthMiddleware accepts a bearer token or the session cookie. The role and
// active flag come from the account lookup so role changes and deactivation
// apply to tokens that were already issued.
func AuthMiddleware(secret string, lookup AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if len(tokenString) > 7 && strings.ToUpper(tokenString[0:6]) == "BEARER" {
			tokenString = tokenString[7:]
		}
		if tokenString == "" {
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				tokenString = cookie
			}
		}
		if tokenString == "" {
			RespondWithError(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			RespondWithError(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			RespondWithError(c, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		role, active, err := lookup(c.Request.Context(), userID)
		if err != nil {
			RespondWithError(c, http.StatusInternalServerError, "Failed to load account")
			return
		}
		if !active {
			RespondWithError(c, http.StatusUnauthorized, "Account is inactive")
			return
		}

		c.Set("userId", userID)
		c.Set("role", role)
		c.Next()
	}
}

// RequireRole only lets the listed roles through
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		RespondWithError(c, http.StatusForbidden, "Insufficient permissions")
	}
}

// CurrentUserID returns the authenticated user set by AuthMiddleware
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("userId")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// NewLinkSecret returns a random URL-safe secret and its bcrypt hash
func NewLinkSecret() (secret, hash string, err error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(key)
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return secret, string(hashed), nil
}

// CheckLinkSecret compares a presented secret with the stored hash
func CheckLinkSecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// FormatLinkToken joins the token ID and secret into the value sent in links
func FormatLinkToken(id uuid.UUID, secret string) string {
	return id.String() + "." + secret
}

// SplitLinkToken is the inverse of FormatLinkToken
func SplitLinkToken(token string) (uuid.UUID, string, error) {
	idPart, secret, ok := strings.Cut(token, ".")
	if !ok || secret == "" {
		return uuid.Nil, "", ErrMalformedLinkToken
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", ErrMalformedLinkToken
	}
	return id, secret, nil
}
