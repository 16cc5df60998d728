package domain

import "fmt"

var (
	// AuctionOpen is the status of an auction accepting bids.
	AuctionOpen = AuctionStatus{code: 1}
	// AuctionClosed is the status of an auction waiting for the off-chain
	// match.
	AuctionClosed = AuctionStatus{code: 2}
	// AuctionMatched is the status of an auction with an attested winner,
	// waiting for its settlement to be delivered.
	AuctionMatched = AuctionStatus{code: 3}
	// AuctionSettled is the terminal status of a settled auction.
	AuctionSettled = AuctionStatus{code: 4}
	// AuctionCancelled is the terminal status of a cancelled auction.
	AuctionCancelled = AuctionStatus{code: 5}

	auctionStatusLabels = map[uint8]string{
		1: "OPEN", 2: "CLOSED", 3: "MATCHED", 4: "SETTLED", 5: "CANCELLED",
	}
)

// AuctionStatus is the closed set of states an auction can assume. The zero
// value is not a valid status.
type AuctionStatus struct {
	code uint8
}

// ParseAuctionStatus returns the status matching the given label.
func ParseAuctionStatus(label string) (AuctionStatus, error) {
	for code, l := range auctionStatusLabels {
		if l == label {
			return AuctionStatus{code}, nil
		}
	}
	return AuctionStatus{}, fmt.Errorf("unknown auction status %q", label)
}

func (s AuctionStatus) String() string {
	if l, ok := auctionStatusLabels[s.code]; ok {
		return l
	}
	return "UNDEFINED"
}

// IsValid returns whether s is one of the declared statuses.
func (s AuctionStatus) IsValid() bool {
	_, ok := auctionStatusLabels[s.code]
	return ok
}

// IsTerminal returns whether no further transition is allowed.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionSettled || s == AuctionCancelled
}

func (s AuctionStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid auction status")
	}
	return []byte(s.String()), nil
}

func (s *AuctionStatus) UnmarshalText(text []byte) error {
	status, err := ParseAuctionStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

var (
	// EscrowHeld is the status of a deposit locked for an active bid.
	EscrowHeld = EscrowState{code: 1}
	// EscrowReleased is the status of the winner's deposit counted toward
	// settlement.
	EscrowReleased = EscrowState{code: 2}
	// EscrowRefunded is the status of a non-winning deposit given back.
	EscrowRefunded = EscrowState{code: 3}
	// EscrowForfeited is the status of a deposit withheld for misbehavior.
	EscrowForfeited = EscrowState{code: 4}

	escrowStateLabels = map[uint8]string{
		1: "HELD", 2: "RELEASED", 3: "REFUNDED", 4: "FORFEITED",
	}
)

// EscrowState is the closed set of states of an escrow entry.
type EscrowState struct {
	code uint8
}

// ParseEscrowState returns the state matching the given label.
func ParseEscrowState(label string) (EscrowState, error) {
	for code, l := range escrowStateLabels {
		if l == label {
			return EscrowState{code}, nil
		}
	}
	return EscrowState{}, fmt.Errorf("unknown escrow state %q", label)
}

func (s EscrowState) String() string {
	if l, ok := escrowStateLabels[s.code]; ok {
		return l
	}
	return "UNDEFINED"
}

// IsValid returns whether s is one of the declared states.
func (s EscrowState) IsValid() bool {
	_, ok := escrowStateLabels[s.code]
	return ok
}

// IsFinal returns whether the entry already left the Held state.
func (s EscrowState) IsFinal() bool {
	return s.IsValid() && s != EscrowHeld
}

func (s EscrowState) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid escrow state")
	}
	return []byte(s.String()), nil
}

func (s *EscrowState) UnmarshalText(text []byte) error {
	state, err := ParseEscrowState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

var (
	// DeliveryPending is the status of a message not yet delivered.
	DeliveryPending = DeliveryStatus{code: 1}
	// DeliveryDelivered is the terminal status of an executed message.
	DeliveryDelivered = DeliveryStatus{code: 2}
	// DeliveryFailed is the status of a message whose last execution failed
	// on the target chain. It can be retried.
	DeliveryFailed = DeliveryStatus{code: 3}

	deliveryStatusLabels = map[uint8]string{
		1: "PENDING", 2: "DELIVERED", 3: "FAILED",
	}
)

// DeliveryStatus is the closed set of delivery states of a settlement
// message.
type DeliveryStatus struct {
	code uint8
}

// ParseDeliveryStatus returns the status matching the given label.
func ParseDeliveryStatus(label string) (DeliveryStatus, error) {
	for code, l := range deliveryStatusLabels {
		if l == label {
			return DeliveryStatus{code}, nil
		}
	}
	return DeliveryStatus{}, fmt.Errorf("unknown delivery status %q", label)
}

func (s DeliveryStatus) String() string {
	if l, ok := deliveryStatusLabels[s.code]; ok {
		return l
	}
	return "UNDEFINED"
}

// IsValid returns whether s is one of the declared statuses.
func (s DeliveryStatus) IsValid() bool {
	_, ok := deliveryStatusLabels[s.code]
	return ok
}

func (s DeliveryStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid delivery status")
	}
	return []byte(s.String()), nil
}

func (s *DeliveryStatus) UnmarshalText(text []byte) error {
	status, err := ParseDeliveryStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}
