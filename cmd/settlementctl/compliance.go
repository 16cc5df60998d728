package main

import (
	"net/http"

	"github.com/urfave/cli/v2"
)

var complianceCmd = cli.Command{
	Name:  "compliance",
	Usage: "record and inspect attested compliance outcomes",
	Subcommands: []*cli.Command{
		{
			Name:  "record",
			Usage: "submit an attested compliance outcome",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name: "file",
					Usage: "json file with participant, compliant, rules_version, " +
						"checked_at and the enclave attestation",
					Required: true,
				},
			},
			Action: complianceRecordAction,
		},
		{
			Name:  "get",
			Usage: "get the latest compliance record of a participant",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "participant",
					Usage:    "the participant address",
					Required: true,
				},
			},
			Action: complianceGetAction,
		},
	},
}

func complianceRecordAction(ctx *cli.Context) error {
	var body map[string]interface{}
	if err := readJSONFile(ctx.String("file"), &body); err != nil {
		return err
	}
	return call(ctx, http.MethodPost, "/v1/compliance", body)
}

func complianceGetAction(ctx *cli.Context) error {
	participant, err := parseAddressFlag(ctx, "participant")
	if err != nil {
		return err
	}
	return call(ctx, http.MethodGet, "/v1/compliance/"+participant.Hex(), nil)
}
