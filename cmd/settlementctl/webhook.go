package main

import (
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

var webhookCmd = cli.Command{
	Name:  "webhook",
	Usage: "add, remove or list webhooks",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "add a (secured) webhook endpoint called whenever a target event occurs",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "endpoint",
					Usage:    "the webhook endpoint to be called whenever the target event occurs",
					Required: true,
				},
				&cli.StringFlag{
					Name: "secret",
					Usage: "the eventual secret to use to generate an OAuth token for " +
						"authenticating requests to the webhook endpoint",
				},
				&cli.StringFlag{
					Name: "event",
					Usage: "one of AUCTION_MATCHED, SETTLEMENT_DELIVERED, " +
						"SETTLEMENT_FAILED, ESCROW_FORFEITED or * for any event",
					Value: "*",
				},
			},
			Action: webhookAddAction,
		},
		{
			Name:  "remove",
			Usage: "remove a webhook",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "the webhook id", Required: true},
			},
			Action: webhookRemoveAction,
		},
		{
			Name:  "list",
			Usage: "list all webhooks, optionally filtered by target event",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "event", Usage: "the target event"},
			},
			Action: webhookListAction,
		},
	},
}

func webhookAddAction(ctx *cli.Context) error {
	return call(ctx, http.MethodPost, "/v1/webhooks", map[string]string{
		"event":    ctx.String("event"),
		"endpoint": ctx.String("endpoint"),
		"secret":   ctx.String("secret"),
	})
}

func webhookRemoveAction(ctx *cli.Context) error {
	return call(
		ctx, http.MethodDelete, "/v1/webhooks/"+url.PathEscape(ctx.String("id")), nil,
	)
}

func webhookListAction(ctx *cli.Context) error {
	path := "/v1/webhooks"
	if event := ctx.String("event"); event != "" {
		path += "?event=" + url.QueryEscape(event)
	}
	return call(ctx, http.MethodGet, path, nil)
}
