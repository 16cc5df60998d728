package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

var (
	auctionIDFlag = &cli.Uint64Flag{
		Name:     "id",
		Usage:    "the id of the auction",
		Required: true,
	}

	auctionCmd = cli.Command{
		Name:  "auction",
		Usage: "open, inspect and drive sealed-bid auctions",
		Subcommands: []*cli.Command{
			auctionOpenCmd, auctionListCmd, auctionGetCmd, auctionStatusCmd,
			auctionCloseCmd, auctionMatchCmd, auctionCancelCmd, auctionDeliverCmd,
		},
	}

	auctionOpenCmd = &cli.Command{
		Name:  "open",
		Usage: "open a new auction",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "seller", Usage: "the seller address", Required: true},
			&cli.StringFlag{Name: "asset_token", Usage: "the auctioned token address", Required: true},
			&cli.StringFlag{Name: "asset_amount", Usage: "the auctioned amount", Required: true},
			&cli.StringFlag{Name: "reserve", Usage: "the reserve price", Required: true},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "how long the auction accepts bids",
				Value: time.Hour,
			},
			&cli.Uint64Flag{
				Name:  "source_chain",
				Usage: "the chain id where the auction settles its escrows",
				Value: domain.ArbitrumOneChainID,
			},
			&cli.Uint64Flag{
				Name:  "target_chain",
				Usage: "the chain id where the winner receives the proceeds",
				Value: domain.SepoliaChainID,
			},
			&cli.BoolFlag{
				Name:  "require_compliance",
				Usage: "accept bids only from compliance cleared bidders",
			},
			decimalsFlag,
		},
		Action: auctionOpenAction,
	}
	auctionListCmd = &cli.Command{
		Name:  "list",
		Usage: "list all auctions, optionally filtered by status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "one of OPEN, CLOSED, MATCHED, SETTLED, CANCELLED",
			},
		},
		Action: auctionListAction,
	}
	auctionGetCmd = &cli.Command{
		Name:   "get",
		Usage:  "get the details of an auction",
		Flags:  []cli.Flag{auctionIDFlag},
		Action: auctionGetAction,
	}
	auctionStatusCmd = &cli.Command{
		Name:   "status",
		Usage:  "get the status of an auction",
		Flags:  []cli.Flag{auctionIDFlag},
		Action: auctionStatusAction,
	}
	auctionCloseCmd = &cli.Command{
		Name:   "close",
		Usage:  "stop accepting bids for an auction",
		Flags:  []cli.Flag{auctionIDFlag},
		Action: auctionCloseAction,
	}
	auctionMatchCmd = &cli.Command{
		Name:  "match",
		Usage: "record the attested match result of a closed auction",
		Flags: []cli.Flag{
			auctionIDFlag,
			&cli.StringFlag{
				Name: "file",
				Usage: "json file with winner, winning_escrow, winning_price and " +
					"the enclave attestation",
				Required: true,
			},
		},
		Action: auctionMatchAction,
	}
	auctionCancelCmd = &cli.Command{
		Name:  "cancel",
		Usage: "cancel an auction not yet matched",
		Flags: []cli.Flag{
			auctionIDFlag,
			&cli.StringFlag{Name: "reason", Usage: "the reason of the cancellation"},
		},
		Action: auctionCancelAction,
	}
	auctionDeliverCmd = &cli.Command{
		Name:   "deliver",
		Usage:  "sign and deliver the settlement message of a matched auction",
		Flags:  []cli.Flag{auctionIDFlag},
		Action: auctionDeliverAction,
	}
)

func auctionPath(ctx *cli.Context, suffix string) string {
	return fmt.Sprintf("/v1/auctions/%d%s", ctx.Uint64(auctionIDFlag.Name), suffix)
}

func parseAddressFlag(ctx *cli.Context, name string) (common.Address, error) {
	addr := ctx.String(name)
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, addr)
	}
	return common.HexToAddress(addr), nil
}

func auctionOpenAction(ctx *cli.Context) error {
	seller, err := parseAddressFlag(ctx, "seller")
	if err != nil {
		return err
	}
	token, err := parseAddressFlag(ctx, "asset_token")
	if err != nil {
		return err
	}
	assetAmount, err := amountFlag(ctx, "asset_amount")
	if err != nil {
		return err
	}
	reserve, err := amountFlag(ctx, "reserve")
	if err != nil {
		return err
	}

	return call(ctx, http.MethodPost, "/v1/auctions", map[string]interface{}{
		"seller":             seller,
		"asset_token":        token,
		"asset_amount":       assetAmount,
		"reserve_price":      reserve,
		"bidding_deadline":   time.Now().Add(ctx.Duration("duration")).Unix(),
		"source_chain_id":    ctx.Uint64("source_chain"),
		"target_chain_id":    ctx.Uint64("target_chain"),
		"require_compliance": ctx.Bool("require_compliance"),
	})
}

func auctionListAction(ctx *cli.Context) error {
	path := "/v1/auctions"
	if status := ctx.String("status"); status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	return call(ctx, http.MethodGet, path, nil)
}

func auctionGetAction(ctx *cli.Context) error {
	return call(ctx, http.MethodGet, auctionPath(ctx, ""), nil)
}

func auctionStatusAction(ctx *cli.Context) error {
	return call(ctx, http.MethodGet, auctionPath(ctx, "/status"), nil)
}

func auctionCloseAction(ctx *cli.Context) error {
	return call(ctx, http.MethodPost, auctionPath(ctx, "/close"), nil)
}

func auctionMatchAction(ctx *cli.Context) error {
	var body map[string]interface{}
	if err := readJSONFile(ctx.String("file"), &body); err != nil {
		return err
	}
	return call(ctx, http.MethodPost, auctionPath(ctx, "/match"), body)
}

func auctionCancelAction(ctx *cli.Context) error {
	return call(ctx, http.MethodPost, auctionPath(ctx, "/cancel"), map[string]string{
		"reason": ctx.String("reason"),
	})
}

func auctionDeliverAction(ctx *cli.Context) error {
	return call(ctx, http.MethodPost, auctionPath(ctx, "/deliver"), nil)
}
