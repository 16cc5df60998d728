package main

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"
)

var (
	escrowAddressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "the escrow address",
		Required: true,
	}

	escrowCmd = cli.Command{
		Name:  "escrow",
		Usage: "inspect and finalize bid escrows",
		Subcommands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "get an escrow entry",
				Flags:  []cli.Flag{escrowAddressFlag},
				Action: escrowAction(http.MethodGet, ""),
			},
			{
				Name:   "release",
				Usage:  "release the winning escrow of a matched auction",
				Flags:  []cli.Flag{escrowAddressFlag},
				Action: escrowAction(http.MethodPost, "/release"),
			},
			{
				Name:   "refund",
				Usage:  "refund a losing escrow, or any escrow of a cancelled auction",
				Flags:  []cli.Flag{escrowAddressFlag},
				Action: escrowAction(http.MethodPost, "/refund"),
			},
			{
				Name:  "forfeit",
				Usage: "forfeit a losing escrow according to the daemon's forfeit policy",
				Flags: []cli.Flag{
					escrowAddressFlag,
					&cli.StringFlag{
						Name:     "reason",
						Usage:    "the reason of the forfeiture",
						Required: true,
					},
				},
				Action: escrowForfeitAction,
			},
			{
				Name:   "ledger",
				Usage:  "get the escrow ledger of an auction",
				Flags:  []cli.Flag{auctionIDFlag},
				Action: escrowLedgerAction(http.MethodGet, ""),
			},
			{
				Name:   "finalize",
				Usage:  "release and refund all the escrows of a matched or cancelled auction",
				Flags:  []cli.Flag{auctionIDFlag},
				Action: escrowLedgerAction(http.MethodPost, "/finalize"),
			},
		},
	}
)

func escrowAction(method, suffix string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		addr, err := parseAddressFlag(ctx, escrowAddressFlag.Name)
		if err != nil {
			return err
		}
		return call(ctx, method, fmt.Sprintf("/v1/escrows/%s%s", addr.Hex(), suffix), nil)
	}
}

func escrowForfeitAction(ctx *cli.Context) error {
	addr, err := parseAddressFlag(ctx, escrowAddressFlag.Name)
	if err != nil {
		return err
	}
	return call(
		ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%s/forfeit", addr.Hex()),
		map[string]string{"reason": ctx.String("reason")},
	)
}

func escrowLedgerAction(method, suffix string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return call(ctx, method, auctionPath(ctx, "/escrows"+suffix), nil)
	}
}
