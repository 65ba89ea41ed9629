package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	v1 "github.com/netacct-lab/radacct/internal/api/v1"
)

// Client issues out-of-band disconnect commands to the NAS that owns a
// session. Implementations must respect the context deadline; the control
// service bounds every command with the configured NAS timeout.
type Client interface {
	Disconnect(ctx context.Context, session *v1.AccountingSession) error
}

// HTTPClient sends disconnect commands to a NAS management endpoint as
// JSON over HTTP. A CoA/Disconnect-Request RADIUS client can replace this
// behind the same interface.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a client for the given NAS admin endpoint base URL.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type disconnectCommand struct {
	SessionID    string `json:"session_id"`
	Username     string `json:"username"`
	NASIPAddress string `json:"nas_ip_address"`
	NASPort      int    `json:"nas_port"`
}

func (c *HTTPClient) Disconnect(ctx context.Context, session *v1.AccountingSession) error {
	body, err := json.Marshal(disconnectCommand{
		SessionID:    session.SessionID,
		Username:     session.Username,
		NASIPAddress: session.NASIPAddress,
		NASPort:      session.NASPort,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal disconnect command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/disconnect", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build disconnect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send disconnect command: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("NAS rejected disconnect command: status %d", resp.StatusCode)
	}
	return nil
}

// NopClient accepts every disconnect command without sending anything.
// Used when no NAS endpoint is configured; the session still terminates
// when the normal accounting Stop arrives.
type NopClient struct{}

func (NopClient) Disconnect(_ context.Context, session *v1.AccountingSession) error {
	slog.Info("[Control] No NAS endpoint configured, disconnect command dropped",
		"session_id", session.SessionID,
		"nas", session.NASIPAddress)
	return nil
}
