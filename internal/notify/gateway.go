package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/eternalsentinel/sentinel/internal/pkg/httpretry"
	"github.com/eternalsentinel/sentinel/internal/pkg/logger"
)

// GatewayTexter sends SMS through a generic JSON HTTP gateway. It covers
// deployments that route texts through a regional aggregator instead of
// SNS. Transient gateway failures retry inside the client with backoff;
// a definitive 4xx is returned to the queue as a plain error.
type GatewayTexter struct {
	url    string
	apiKey string
	sender string
	client *httpretry.RetryClient
}

// NewGatewayTexter creates an HTTP gateway SMS transport.
func NewGatewayTexter(url, apiKey, sender string, timeout time.Duration) *GatewayTexter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GatewayTexter{
		url:    url,
		apiKey: apiKey,
		sender: sender,
		client: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2),
	}
}

// SendSMS posts one message to the gateway.
func (g *GatewayTexter) SendSMS(ctx context.Context, msg *SMS) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	body, err := json.Marshal(map[string]string{
		"to":      msg.To,
		"from":    g.sender,
		"message": msg.Message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sms gateway: status %d: %s", resp.StatusCode, snippet)
	}

	log.Printf("[SMSGateway] Sent SMS to %s", logger.RedactPhone(msg.To))
	return nil
}
