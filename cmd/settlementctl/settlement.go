package main

import (
	"net/http"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var settlementCmd = cli.Command{
	Name:  "settlement",
	Usage: "deliver and track cross-chain settlement messages",
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "get the delivery status of a settlement message",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "hash",
					Usage:    "the settlement message hash",
					Required: true,
				},
			},
			Action: settlementStatusAction,
		},
		{
			Name:  "list",
			Usage: "list settlement messages by delivery status",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "status",
					Usage: "one of PENDING, DELIVERED, FAILED",
					Value: "PENDING",
				},
			},
			Action: settlementListAction,
		},
		{
			Name:  "deliver",
			Usage: "deliver a settlement message signed by an authorized relayer",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "file",
					Usage:    "json file with the message payload and signature",
					Required: true,
				},
			},
			Action: settlementDeliverAction,
		},
	},
}

func settlementStatusAction(ctx *cli.Context) error {
	hash := common.HexToHash(ctx.String("hash"))
	return call(ctx, http.MethodGet, "/v1/settlements/"+hash.Hex(), nil)
}

func settlementListAction(ctx *cli.Context) error {
	return call(
		ctx, http.MethodGet,
		"/v1/settlements?status="+url.QueryEscape(ctx.String("status")), nil,
	)
}

func settlementDeliverAction(ctx *cli.Context) error {
	var body map[string]interface{}
	if err := readJSONFile(ctx.String("file"), &body); err != nil {
		return err
	}
	return call(ctx, http.MethodPost, "/v1/settlements", body)
}
