package main

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/thanhpk/randstr"
	"github.com/urfave/cli/v2"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/enclave/simulated"
)

var bidCmd = cli.Command{
	Name:  "bid",
	Usage: "submit a sealed bid to an open auction",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "auction", Usage: "the id of the auction", Required: true},
		&cli.StringFlag{
			Name:     "key",
			Usage:    "hex encoded private key of the bidder",
			EnvVars:  []string{"SETTLEMENTCTL_BIDDER_KEY"},
			Required: true,
		},
		&cli.StringFlag{Name: "deposit", Usage: "the escrowed deposit", Required: true},
		&cli.StringFlag{
			Name:  "payload",
			Usage: "hex encoded bid sealed for the enclave",
		},
		&cli.StringFlag{
			Name:  "price",
			Usage: "the bid price, sealed with --seal_key if --payload is missing",
		},
		&cli.StringFlag{
			Name:  "seal_key",
			Usage: "hex encoded bid key of a simulated enclave",
		},
		&cli.StringFlag{
			Name:  "salt",
			Usage: "hex encoded 32-byte salt of the escrow address, random if missing",
		},
		decimalsFlag,
	},
	Action: bidAction,
}

type bidInput struct {
	auctionID uint64
	key       *ecdsa.PrivateKey
	deposit   string
	payload   []byte
	salt      [32]byte
}

// buildBid returns the signed bid commitment and its escrow address derived
// from the bidder, the auction and the salt.
func buildBid(in bidInput) (domain.BidCommitment, error) {
	deposit, ok := new(big.Int).SetString(in.deposit, 10)
	if !ok {
		return domain.BidCommitment{}, fmt.Errorf("invalid deposit %q", in.deposit)
	}
	bidder := crypto.PubkeyToAddress(in.key.PublicKey)
	bid := domain.BidCommitment{
		AuctionID:        in.auctionID,
		Bidder:           bidder,
		EscrowAddress:    domain.DeriveEscrowAddress(bidder, in.auctionID, in.salt),
		EncryptedPayload: in.payload,
		DepositAmount:    deposit,
		Timestamp:        time.Now().Unix(),
	}
	if err := domain.SignBid(&bid, in.key); err != nil {
		return domain.BidCommitment{}, err
	}
	return bid, nil
}

func parseSalt(s string) ([32]byte, error) {
	var salt [32]byte
	if s == "" {
		copy(salt[:], randstr.Bytes(len(salt)))
		return salt, nil
	}
	buf, err := hexutil.Decode(ensureHexPrefix(s))
	if err != nil || len(buf) != len(salt) {
		return salt, fmt.Errorf("invalid salt, must be 32 bytes hex encoded")
	}
	copy(salt[:], buf)
	return salt, nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

func bidPayload(ctx *cli.Context) ([]byte, error) {
	if p := ctx.String("payload"); p != "" {
		return hexutil.Decode(ensureHexPrefix(p))
	}
	if ctx.String("price") == "" || ctx.String("seal_key") == "" {
		return nil, fmt.Errorf("either --payload or both --price and --seal_key are required")
	}

	price, err := parseAmount(ctx.String("price"), int32(ctx.Int(decimalsFlag.Name)))
	if err != nil {
		return nil, err
	}
	sealKey, err := hexutil.Decode(ensureHexPrefix(ctx.String("seal_key")))
	if err != nil {
		return nil, fmt.Errorf("invalid seal key: %s", err)
	}
	return simulated.SealBid(sealKey, price, time.Now().Unix())
}

func bidAction(ctx *cli.Context) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(ctx.String("key"), "0x"))
	if err != nil {
		return fmt.Errorf("invalid bidder key: %s", err)
	}
	deposit, err := amountFlag(ctx, "deposit")
	if err != nil {
		return err
	}
	payload, err := bidPayload(ctx)
	if err != nil {
		return err
	}
	salt, err := parseSalt(ctx.String("salt"))
	if err != nil {
		return err
	}

	bid, err := buildBid(bidInput{
		auctionID: ctx.Uint64("auction"),
		key:       key,
		deposit:   deposit,
		payload:   payload,
		salt:      salt,
	})
	if err != nil {
		return err
	}

	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	var res map[string]interface{}
	if err := client.do(
		http.MethodPost, fmt.Sprintf("/v1/auctions/%d/bids", bid.AuctionID),
		map[string]interface{}{
			"bidder":            bid.Bidder,
			"escrow_address":    bid.EscrowAddress,
			"encrypted_payload": hexutil.Bytes(bid.EncryptedPayload),
			"deposit_amount":    bid.DepositAmount.String(),
			"timestamp":         bid.Timestamp,
			"signature":         hexutil.Bytes(bid.Signature),
		}, &res,
	); err != nil {
		return err
	}

	res["escrow_salt"] = common.Hash(salt).Hex()
	printJSON(res)
	return nil
}
