package performanceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
)

const (
	pathToken = "/api/client/token"
	tokenKey  = "access_token"
	// токен обновляется заранее, за минуту до истечения
	tokenMargin = time.Minute
)

var ErrAuthFailed = errors.New("performance api authorization failed")

// TokenProvider выдает действующий bearer-токен, обновляя его по истечении.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type tokenProvider struct {
	client       *resty.Client
	clientID     string
	clientSecret string

	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

func NewTokenProvider(addr, clientID, clientSecret string, timeout time.Duration) TokenProvider {
	return &tokenProvider{
		client:       resty.New().SetBaseURL(addr).SetTimeout(timeout),
		clientID:     clientID,
		clientSecret: clientSecret,
		cache:        cache.New(cache.NoExpiration, 10*time.Minute),
		now:          time.Now,
	}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (p *tokenProvider) Token(ctx context.Context) (string, error) {
	if token, ok := p.cache.Get(tokenKey); ok {
		return token.(string), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// пока ждали блокировку, токен мог обновить другой запрос
	if token, ok := p.cache.Get(tokenKey); ok {
		return token.(string), nil
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(tokenRequest{
			ClientID:     p.clientID,
			ClientSecret: p.clientSecret,
			GrantType:    "client_credentials",
		}).
		Post(pathToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode())
	}

	var token tokenResponse
	if err := json.Unmarshal(resp.Body(), &token); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrAuthFailed, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	ttl := time.Duration(token.ExpiresIn)*time.Second - tokenMargin
	if ttl > 0 {
		p.cache.Set(tokenKey, token.AccessToken, ttl)
	}
	return token.AccessToken, nil
}
