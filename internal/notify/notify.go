// Package notify delivers outbox messages to users over Twilio.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/RobotFeed/internal/store"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Message is the outbox payload of a text message.
type Message struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Channel selects the Twilio delivery channel.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    Channel
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number, e.g. "+15550001111".
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithChannel sets the delivery channel. SMS is the default.
func WithChannel(ch Channel) Option {
	return func(o *Opts) { o.Channel = ch }
}

// Client sends messages through the Twilio REST API.
type Client struct {
	client  *twilio.RestClient
	from    string
	channel Channel
}

// NewClient creates a Twilio client. Unset options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and TWILIO_CHANNEL.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.Channel == "" {
		cfg.Channel = Channel(os.Getenv("TWILIO_CHANNEL"))
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelSMS
	}
	slog.Debug("notify.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"channel", cfg.Channel)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if cfg.Channel != ChannelSMS && cfg.Channel != ChannelWhatsApp {
		return nil, fmt.Errorf("unsupported channel %q", cfg.Channel)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, from: cfg.From, channel: cfg.Channel}, nil
}

func (c *Client) address(number string) string {
	if c.channel == ChannelWhatsApp && !strings.HasPrefix(number, "whatsapp:") {
		return "whatsapp:" + number
	}
	return number
}

// SendMessage sends body to the given phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.address(to))
	params.SetFrom(c.address(c.from))
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: Twilio request failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Client.SendMessage: sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// SentMessage is a message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, is returned by SendMessage.
	Err error
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	slog.Debug("MockClient.SendMessage", "to", to)
	return nil
}

// Sent returns the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// OutboxSendFunc adapts a Sender to the outbox sender callback.
func OutboxSendFunc(sender Sender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		var m Message
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &m); err != nil {
			return fmt.Errorf("invalid %s outbox payload: %w", msg.Kind, err)
		}
		if m.To == "" {
			return fmt.Errorf("outbox message %s has no recipient", msg.ID)
		}
		return sender.SendMessage(ctx, m.To, m.Body)
	}
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = (*MockClient)(nil)
)
