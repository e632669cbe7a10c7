package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const syncPath = "/rest/v1/sync/"

// RemoteClient applies Commands to the remote store.
type RemoteClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewRemoteClient(remoteURL, anonKey string, httpClient *http.Client) *RemoteClient {
	return &RemoteClient{
		baseURL:    trimBaseURL(remoteURL),
		anonKey:    anonKey,
		httpClient: defaultHTTPClient(httpClient),
	}
}

type writeRequest struct {
	Op  string         `json:"op"`
	ID  string         `json:"id"`
	Row map[string]any `json:"row"`
}

// Apply sends cmd authorised by accessToken.
func (c *RemoteClient) Apply(ctx context.Context, accessToken string, cmd Command) error {
	switch cmd.Kind {
	case Upsert, Update, SoftDelete:
	default:
		return fmt.Errorf("unsupported command %s", cmd.Kind)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
		"apikey":        c.anonKey,
	}
	body := writeRequest{Op: cmd.Kind.String(), ID: cmd.RowID, Row: cmd.Row}
	return doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+syncPath+url.PathEscape(string(cmd.Table)), headers, body, nil)
}
