package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v2"
	httpinterface "github.com/tdex-network/tdex-settlement/internal/interfaces/http"
)

var (
	configCmd = cli.Command{
		Name:   "config",
		Usage:  "Print local configuration of the settlementctl CLI",
		Action: configAction,
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "set a <key> <value> in the local state",
				ArgsUsage: "<key> <value>",
				Action:    configSetAction,
			},
			{
				Name:   "init",
				Usage:  "initialize the local state with flags",
				Action: configInitAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "rpcserver",
						Usage: "settlement daemon address host:port",
						Value: "localhost:9000",
					},
					&cli.StringFlag{
						Name:  "token",
						Usage: "operator bearer token",
					},
				},
			},
		},
	}

	tokenCmd = cli.Command{
		Name:  "token",
		Usage: "generate an operator bearer token from the daemon's operator secret",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "the operator secret configured in the daemon",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "expiry",
				Usage: "validity of the token, 0 for no expiration",
				Value: 24 * time.Hour,
			},
			&cli.BoolFlag{
				Name:  "save",
				Usage: "store the token in the local state",
			},
		},
		Action: tokenAction,
	}
)

func configAction(ctx *cli.Context) error {
	state, err := getState(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Println(k + ": " + state[k])
	}
	return nil
}

func configSetAction(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("invalid usage, expected <key> <value>")
	}
	return setState(ctx, map[string]string{
		ctx.Args().Get(0): ctx.Args().Get(1),
	})
}

func configInitAction(ctx *cli.Context) error {
	return setState(ctx, map[string]string{
		"rpcserver": ctx.String("rpcserver"),
		"token":     ctx.String("token"),
	})
}

func tokenAction(ctx *cli.Context) error {
	var expiresAt int64
	if expiry := ctx.Duration("expiry"); expiry > 0 {
		expiresAt = time.Now().Add(expiry).Unix()
	}
	token, err := httpinterface.NewOperatorToken([]byte(ctx.String("secret")), expiresAt)
	if err != nil {
		return err
	}
	if ctx.Bool("save") {
		if err := setState(ctx, map[string]string{"token": token}); err != nil {
			return err
		}
	}
	fmt.Println(token)
	return nil
}
