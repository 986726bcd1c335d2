package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hyperjump/bami/internal/config"
	"go.uber.org/zap"
)

// Claims are the admin session claims.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

const roleAdmin = "admin"

// GenerateToken signs an admin token for email.
func GenerateToken(email string, cfg *config.AuthConfig, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(cfg.TokenTTL)
	claims := Claims{
		Email: email,
		Role:  roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.AdminSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies an admin token.
func ParseToken(tokenString string, cfg *config.AuthConfig) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.AdminSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != roleAdmin {
		return nil, errors.New("not an admin token")
	}
	return claims, nil
}

// apiKeyGuard requires X-API-Key when an API key is configured.
func (s *Server) apiKeyGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required := s.config.Auth.APIKey
		if required == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get("X-API-Key")
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(required)) != 1 {
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuth requires a valid admin bearer token.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := ParseToken(strings.TrimSpace(raw), &s.config.Auth)
		if err != nil {
			s.logger.Debug("admin token rejected", zap.Error(err))
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		s.logger.Debug("admin request", zap.String("email", claims.Email), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}
