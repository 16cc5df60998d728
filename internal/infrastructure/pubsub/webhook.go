package pubsub

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

// webhook is the stored form of a ports.Webhook. The secret never leaves the
// store.
type webhook struct {
	ID       string
	Event    string `badgerhold:"index"`
	Endpoint string
	Secret   string
}

func newWebhook(event, endpoint, secret string) (*webhook, error) {
	if event == "" {
		return nil, fmt.Errorf("missing webhook event")
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid webhook endpoint, must be an http(s) url")
	}
	return &webhook{
		ID:       uuid.New().String(),
		Event:    event,
		Endpoint: endpoint,
		Secret:   secret,
	}, nil
}

func (w webhook) toPort() ports.Webhook {
	return ports.Webhook{
		ID:       w.ID,
		Event:    w.Event,
		Endpoint: w.Endpoint,
		Secured:  w.Secret != "",
	}
}
