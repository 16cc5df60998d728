package main

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

const defaultDecimals = 18

var decimalsFlag = &cli.IntFlag{
	Name:  "decimals",
	Usage: "decimals of the asset token, amounts are given in whole units",
	Value: defaultDecimals,
}

// parseAmount converts an amount in whole units, like 1.5, to its integer
// representation in the smallest unit of a token with the given decimals.
func parseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %s", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf(
			"invalid amount %q: more than %d decimal places", s, decimals,
		)
	}
	return scaled.BigInt(), nil
}

// formatAmount is the inverse of parseAmount.
func formatAmount(n *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(n, -decimals).String()
}

func amountFlag(ctx *cli.Context, name string) (string, error) {
	n, err := parseAmount(ctx.String(name), int32(ctx.Int(decimalsFlag.Name)))
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return n.String(), nil
}
