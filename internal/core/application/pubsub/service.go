package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

const (
	EventAuctionMatched      = "AUCTION_MATCHED"
	EventSettlementDelivered = "SETTLEMENT_DELIVERED"
	EventSettlementFailed    = "SETTLEMENT_FAILED"
	EventEscrowForfeited     = "ESCROW_FORFEITED"

	listenerBufferSize = 64
)

var events = map[string]struct{}{
	EventAuctionMatched:      {},
	EventSettlementDelivered: {},
	EventSettlementFailed:    {},
	EventEscrowForfeited:     {},
	ports.AnyEvent:           {},
}

// Event is what listeners receive for every published message.
type Event struct {
	Topic   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Service publishes domain events to webhook subscribers and to in-process
// listeners. The webhook pubsub is optional.
type Service struct {
	pubsub ports.WebhookPubSub

	lock      *sync.RWMutex
	listeners map[string]chan Event
}

func NewService(pubsub ports.WebhookPubSub) *Service {
	return &Service{
		pubsub:    pubsub,
		lock:      &sync.RWMutex{},
		listeners: make(map[string]chan Event),
	}
}

func (s *Service) AddWebhook(
	_ context.Context, event, endpoint, secret string,
) (string, error) {
	if s.pubsub == nil {
		return "", fmt.Errorf("webhooks are disabled")
	}
	if _, ok := events[event]; !ok {
		return "", fmt.Errorf("invalid webhook event type %q", event)
	}
	return s.pubsub.AddWebhook(event, endpoint, secret)
}

func (s *Service) RemoveWebhook(_ context.Context, id string) error {
	if s.pubsub == nil {
		return fmt.Errorf("webhooks are disabled")
	}
	return s.pubsub.RemoveWebhook(id)
}

func (s *Service) ListWebhooks(
	_ context.Context, event string,
) ([]ports.Webhook, error) {
	if s.pubsub == nil {
		return nil, nil
	}
	if event != "" {
		if _, ok := events[event]; !ok {
			return nil, fmt.Errorf("invalid webhook event type %q", event)
		}
	}
	return s.pubsub.ListWebhooks(event), nil
}

// Listen registers a new in-process listener. The returned function must be
// called to stop listening. Events are dropped for listeners that do not
// keep up.
func (s *Service) Listen() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, listenerBufferSize)

	s.lock.Lock()
	s.listeners[id] = ch
	s.lock.Unlock()

	return ch, func() {
		s.lock.Lock()
		defer s.lock.Unlock()

		if ch, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(ch)
		}
	}
}

func (s *Service) PublishAuctionMatchedEvent(
	auction domain.Auction, msg domain.SettlementMessage,
) error {
	match := auction.Match
	if match == nil {
		return fmt.Errorf("auction %d is not matched", auction.ID)
	}
	return s.publish(EventAuctionMatched, map[string]interface{}{
		"auction_id":      auction.ID,
		"winner":          match.Winner.Hex(),
		"winning_escrow":  match.WinningEscrow.Hex(),
		"winning_price":   match.WinningPrice.String(),
		"bid_set_root":    match.BidSetRoot.Hex(),
		"attestation_ref": match.AttestationRef.Hex(),
		"message_hash":    msg.Hash().Hex(),
		"matched_at":      formatTime(match.MatchedAt),
	})
}

func (s *Service) PublishSettlementDeliveredEvent(
	receipt domain.DeliveryReceipt, auctionID uint64,
) error {
	return s.publish(EventSettlementDelivered, map[string]interface{}{
		"auction_id":      auctionID,
		"message_hash":    receipt.MessageHash.Hex(),
		"source_chain_id": receipt.SourceChainID,
		"target_chain_id": receipt.TargetChainID,
		"txid":            receipt.TxHash,
		"attempts":        receipt.Attempts,
		"delivered_at":    formatTime(receipt.DeliveredAt),
	})
}

func (s *Service) PublishSettlementFailedEvent(msg domain.SettlementMessage) error {
	return s.publish(EventSettlementFailed, map[string]interface{}{
		"auction_id":      msg.Payload.AuctionID,
		"message_hash":    msg.Hash().Hex(),
		"source_chain_id": msg.Payload.SourceChainID,
		"target_chain_id": msg.Payload.TargetChainID,
		"attempts":        msg.Attempts,
		"error":           msg.LastError,
	})
}

func (s *Service) PublishEscrowForfeitedEvent(entry domain.EscrowEntry) error {
	payload := map[string]interface{}{
		"auction_id":     entry.AuctionID,
		"escrow_address": entry.Address.Hex(),
		"bidder":         entry.Bidder.Hex(),
		"amount":         entry.Amount.String(),
		"reason":         entry.ForfeitReason,
		"forfeited_at":   formatTime(entry.FinalizedAt),
	}
	if d := entry.Disposition; d != nil {
		payload["disposition"] = map[string]interface{}{
			"kind":      d.Kind,
			"recipient": d.Recipient.Hex(),
			"withheld":  d.Withheld.String(),
			"returned":  d.Returned.String(),
		}
	}
	return s.publish(EventEscrowForfeited, payload)
}

func (s *Service) Close() {
	s.lock.Lock()
	for id, ch := range s.listeners {
		delete(s.listeners, id)
		close(ch)
	}
	s.lock.Unlock()

	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			log.WithError(err).Warn("failed to close pubsub store")
		}
	}
}

func (s *Service) publish(topic string, payload map[string]interface{}) error {
	payload["event"] = topic
	message, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.lock.RLock()
	for _, ch := range s.listeners {
		select {
		case ch <- Event{topic, message}:
		default:
		}
	}
	s.lock.RUnlock()

	if s.pubsub == nil {
		return nil
	}
	return s.pubsub.Publish(topic, message)
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
