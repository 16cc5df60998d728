package ports

// AnyEvent subscribes a webhook to every settlement event.
const AnyEvent = "*"

// Webhook is an endpoint notified with a POST whenever its event occurs.
type Webhook struct {
	ID       string
	Event    string
	Endpoint string
	Secured  bool
}

// WebhookPubSub delivers settlement events to registered webhooks. Webhooks
// registered with a secret receive an HS256 bearer token signed with it.
type WebhookPubSub interface {
	// AddWebhook registers the endpoint for the event and returns its id.
	// Registering the same endpoint twice for an event returns the id of
	// the existing webhook.
	AddWebhook(event, endpoint, secret string) (string, error)
	RemoveWebhook(id string) error
	// ListWebhooks returns the webhooks notified of the given event, or every
	// webhook if event is empty.
	ListWebhooks(event string) []Webhook
	// Publish posts the payload to every webhook notified of the event.
	Publish(event string, payload []byte) error
	Close() error
}
