package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type Auth interface {
	Middleware(h http.HandlerFunc) http.HandlerFunc
	IssueToken(subject string, ttl time.Duration) (string, error)
}

const (
	// заголовок, в котором хендлер получает владельца токена
	HeaderSubjectKey = "X-Unitecon-Subject"
	bearerPrefix     = "Bearer "
)

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

type auth struct {
	secret []byte
}

// NewAuth - пустой secret отключает проверку.
func NewAuth(secret string) Auth {
	return &auth{secret: []byte(secret)}
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			h.ServeHTTP(w, r)
			return
		}

		subject, err := a.getSubject(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderSubjectKey, subject)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getSubject(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrNoToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// IssueToken выпускает токен доступа к API.
func (a *auth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
