package connector

import (
	"context"
	"errors"
	"net/http"
)

const exchangePath = "/functions/v1/agent-token"

// Grant is the exchange endpoint's answer. ExpiresAt is in epoch seconds.
type Grant struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
}

type Exchanger interface {
	Exchange(ctx context.Context, apiKey string) (Grant, error)
}

// ExchangeClient trades the process API key for an access token.
type ExchangeClient struct {
	url        string
	anonKey    string
	httpClient *http.Client
}

func NewExchangeClient(remoteURL, anonKey string, httpClient *http.Client) *ExchangeClient {
	return &ExchangeClient{
		url:        trimBaseURL(remoteURL) + exchangePath,
		anonKey:    anonKey,
		httpClient: defaultHTTPClient(httpClient),
	}
}

func (c *ExchangeClient) Exchange(ctx context.Context, apiKey string) (Grant, error) {
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	if c.anonKey != "" {
		headers["apikey"] = c.anonKey
	}
	var grant Grant
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.url, headers, nil, &grant); err != nil {
		return Grant{}, err
	}
	if grant.Token == "" || grant.ExpiresAt == 0 {
		return Grant{}, errors.New("exchange response is missing token or expires_at")
	}
	return grant, nil
}
