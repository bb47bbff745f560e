// Package expo delivers push notifications through the Expo push API (or any
// endpoint speaking the same protocol). It classifies every attempt into the
// transport outcome taxonomy so the pipeline can decide between retrying and
// pruning the token.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"alertd/internal/transport"
	"alertd/pkg/alert"
	"alertd/pkg/logx"
)

const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// Config configures the adapter. Zero values pick defaults.
type Config struct {
	Endpoint string
	// AccessToken enables Expo's enhanced push security if set.
	AccessToken string
	Timeout     time.Duration
	// Sound defaults to "default" so emergency pushes are audible.
	Sound string
}

type Transport struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Transport {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Sound == "" {
		cfg.Sound = "default"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

type pushMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type pushResponse struct {
	Data []pushTicket `json:"data"`
}

type pushTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// Deliver sends one notification. The outcome is authoritative; the error
// only adds detail.
func (t *Transport) Deliver(ctx context.Context, token string, a alert.Alert) (transport.PushOutcome, error) {
	msg := pushMessage{
		To:    token,
		Title: a.Title,
		Body:  a.Message,
		Sound: t.cfg.Sound,
		Data: map[string]any{
			"alertId":   a.ID,
			"type":      string(a.Type),
			"timestamp": a.Timestamp.Format(time.RFC3339),
		},
	}
	if a.Type == alert.TypeEmergency {
		msg.Priority = "high"
	}

	body, err := json.Marshal([]pushMessage{msg})
	if err != nil {
		return transport.PushPermanentFailure, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return transport.PushPermanentFailure, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Network errors and timeouts are worth retrying.
		return transport.PushTransientFailure, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transport.PushTransientFailure, fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return transport.PushPermanentFailure, fmt.Errorf("push endpoint rejected request: %d", resp.StatusCode)
	}

	var pr pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&pr); err != nil {
		return transport.PushTransientFailure, fmt.Errorf("decode push response: %w", err)
	}
	if len(pr.Data) == 0 {
		return transport.PushTransientFailure, errors.New("push response carried no ticket")
	}

	ticket := pr.Data[0]
	switch {
	case ticket.Status == "ok":
		return transport.PushDelivered, nil
	case ticket.Details.Error == "DeviceNotRegistered":
		return transport.PushPermanentFailure, errors.New("device not registered")
	case ticket.Details.Error == "MessageTooBig" || ticket.Details.Error == "InvalidCredentials":
		return transport.PushPermanentFailure, fmt.Errorf("push rejected: %s", ticket.Details.Error)
	default:
		if ticket.Message == "" {
			ticket.Message = "unspecified ticket error"
		}
		return transport.PushTransientFailure, fmt.Errorf("push ticket error: %s", ticket.Message)
	}
}
