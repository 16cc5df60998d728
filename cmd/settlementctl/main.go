package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"
)

const stateFileName = "state.json"

var (
	defaultDatadir = btcutil.AppDataDir("settlementctl", false)

	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "directory of the local state of the CLI",
		Value:   defaultDatadir,
		EnvVars: []string{"SETTLEMENTCTL_DATADIR"},
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "settlementctl"
	app.Usage = "Command line interface for settlement daemon operators and bidders"
	app.Flags = []cli.Flag{datadirFlag}
	app.Commands = []*cli.Command{
		&configCmd,
		&tokenCmd,
		&auctionCmd,
		&bidCmd,
		&escrowCmd,
		&complianceCmd,
		&settlementCmd,
		&webhookCmd,
	}
	return app
}

func statePath(ctx *cli.Context) string {
	return filepath.Join(ctx.String(datadirFlag.Name), stateFileName)
}

func getState(ctx *cli.Context) (map[string]string, error) {
	buf, err := os.ReadFile(statePath(ctx))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("get config state error: try 'config init'")
		}
		return nil, err
	}
	data := map[string]string{}
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, fmt.Errorf("invalid state file: %w", err)
	}
	return data, nil
}

func setState(ctx *cli.Context, data map[string]string) error {
	current, err := getState(ctx)
	if err != nil {
		current = map[string]string{}
	}
	for k, v := range data {
		current[k] = v
	}

	if err := os.MkdirAll(ctx.String(datadirFlag.Name), 0o755); err != nil {
		return err
	}
	buf, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath(ctx), buf, 0o600); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}
	return nil
}

// client calls the http interface of the daemon.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func getClient(ctx *cli.Context) (*client, error) {
	state, err := getState(ctx)
	if err != nil {
		return nil, err
	}
	address, ok := state["rpcserver"]
	if !ok || address == "" {
		return nil, errors.New("set rpcserver with `config set rpcserver`")
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return &client{
		baseURL: strings.TrimSuffix(address, "/"),
		token:   state["token"],
		http:    &http.Client{Timeout: 3 * time.Minute},
	}, nil
}

func (c *client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to connect to daemon: %v", err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var res struct {
			Error string `json:"error"`
			Class string `json:"class"`
		}
		if err := json.Unmarshal(buf, &res); err != nil || res.Error == "" {
			return fmt.Errorf("%s", resp.Status)
		}
		return fmt.Errorf("%s (%s)", res.Error, res.Class)
	}
	if out == nil || len(buf) == 0 {
		return nil
	}
	return json.Unmarshal(buf, out)
}

// call runs the request and prints the response body as indented json.
func call(ctx *cli.Context, method, path string, body interface{}) error {
	c, err := getClient(ctx)
	if err != nil {
		return err
	}
	var res json.RawMessage
	if err := c.do(method, path, body, &res); err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func printJSON(v interface{}) {
	buf, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		fmt.Println("unable to decode response: ", err)
		return
	}
	fmt.Println(string(buf))
}

func readJSONFile(path string, out interface{}) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[settlementctl] %v\n", err)
	os.Exit(1)
}
