package pubsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
	"github.com/tdex-network/tdex-settlement/pkg/circuitbreaker"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/sync/errgroup"
)

const (
	requestTimeout = 15 * time.Second
	tokenExpiry    = 5 * time.Minute
	// max bytes of a webhook reply kept for error messages.
	maxReplySize = 512
)

// ErrWebhookNotFound ...
var ErrWebhookNotFound = errors.New("webhook not found")

type service struct {
	store  *badgerhold.Store
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService returns a webhook pubsub. Webhooks are persisted in a badger db
// under <datadir>/pubsub, or kept in memory if datadir is empty.
func NewService(datadir string, logger badger.Logger) (ports.WebhookPubSub, error) {
	var dir string
	if datadir != "" {
		dir = filepath.Join(datadir, "pubsub")
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	opts.InMemory = dir == ""

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("opening webhook db: %w", err)
	}

	return &service{
		store:  store,
		client: &http.Client{Timeout: requestTimeout},
		cb:     circuitbreaker.NewCircuitBreaker("webhooks"),
	}, nil
}

func (s *service) AddWebhook(event, endpoint, secret string) (string, error) {
	hook, err := newWebhook(event, endpoint, secret)
	if err != nil {
		return "", err
	}

	existing := make([]webhook, 0)
	query := badgerhold.Where("Event").Eq(event).Index("Event").
		And("Endpoint").Eq(endpoint)
	if err := s.store.Find(&existing, query); err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	if err := s.store.Insert(hook.ID, hook); err != nil {
		return "", err
	}
	return hook.ID, nil
}

func (s *service) RemoveWebhook(id string) error {
	if err := s.store.Delete(id, webhook{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrWebhookNotFound
		}
		return err
	}
	return nil
}

func (s *service) ListWebhooks(event string) []ports.Webhook {
	hooks := s.findWebhooks(event)
	list := make([]ports.Webhook, 0, len(hooks))
	for _, hook := range hooks {
		list = append(list, hook.toPort())
	}
	return list
}

func (s *service) Publish(event string, payload []byte) error {
	hooks := s.findWebhooks(event)

	eg := &errgroup.Group{}
	for i := range hooks {
		hook := hooks[i]
		eg.Go(func() error { return s.notify(hook, payload) })
	}
	return eg.Wait()
}

func (s *service) Close() error {
	return s.store.Close()
}

func (s *service) findWebhooks(event string) []webhook {
	var query *badgerhold.Query
	switch event {
	case "":
		query = badgerhold.Where("ID").Ne("")
	case ports.AnyEvent:
		query = badgerhold.Where("Event").Eq(ports.AnyEvent).Index("Event")
	default:
		query = badgerhold.Where("Event").In(event, ports.AnyEvent).Index("Event")
	}

	hooks := make([]webhook, 0)
	if err := s.store.Find(&hooks, query.SortBy("ID")); err != nil {
		log.WithError(err).WithField("event", event).Warn("failed to list webhooks")
		return nil
	}
	return hooks
}

func (s *service) notify(hook webhook, payload []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, hook.Endpoint, bytes.NewReader(payload),
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if hook.Secret != "" {
			token, err := signWebhookToken(hook)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
			return nil, fmt.Errorf(
				"webhook %s replied with status %d: %s", hook.ID, resp.StatusCode, reply,
			)
		}
		return nil, nil
	})
	return err
}

func signWebhookToken(hook webhook) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   hook.Event,
		Id:        hook.ID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenExpiry).Unix(),
	})
	return token.SignedString([]byte(hook.Secret))
}
