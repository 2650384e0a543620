package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrRelayRejected = errors.New("mail relay rejected message")

// Message is one outgoing notification.
type Message struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Tag     string `json:"tag,omitempty"`
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type relayResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// MailRelayClient posts messages to an HTTP mail relay.
type MailRelayClient struct {
	httpClient *resty.Client
	from       string
	logger     *zap.Logger
}

// NewMailRelayClient creates a relay client. from is used when a message has none.
func NewMailRelayClient(baseURL, token, from string, logger *zap.Logger) *MailRelayClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if token != "" {
		client.SetAuthToken(token)
	}

	return &MailRelayClient{
		httpClient: client,
		from:       from,
		logger:     logger,
	}
}

// Send posts msg to the relay's /messages endpoint.
func (c *MailRelayClient) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = c.from
	}

	var result relayResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		SetError(&result).
		Post("/messages")
	if err != nil {
		c.logger.Error("Mail relay call failed",
			zap.String("to", msg.To),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call mail relay: %w", err)
	}

	if resp.IsError() {
		c.logger.Error("Mail relay returned error",
			zap.String("to", msg.To),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", result.Message),
		)
		return fmt.Errorf("%w: %s (status: %d)", ErrRelayRejected, result.Message, resp.StatusCode())
	}

	c.logger.Debug("Mail relayed",
		zap.String("to", msg.To),
		zap.String("relay_id", result.ID),
		zap.String("tag", msg.Tag),
	)
	return nil
}
