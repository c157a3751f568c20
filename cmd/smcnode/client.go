package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/RENCI-NRIG/impact-smc/services"
	cli "github.com/urfave/cli/v2"
)

var timeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Usage: "Give up after this long",
	Value: 10 * time.Minute,
}

var queryCmd = &cli.Command{
	Name:      "query",
	Usage:     "run an aggregation session on a coordinator node",
	ArgsUsage: "<criterion>",
	Flags:     []cli.Flag{nodeFlag, timeoutFlag},

	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one criterion")
		}
		criterion, err := protocol.ParseCriterion(cctx.Args().First())
		if err != nil {
			return err
		}

		v := url.Values{}
		v.Set(protocol.ParamCriterion, criterion.String())
		body, err := callNode(cctx.Context, cctx.String(nodeFlag.Name), services.QueryPath, v, cctx.Duration(timeoutFlag.Name))
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, body)
		return nil
	},
}

var prepareCmd = &cli.Command{
	Name:  "prepare",
	Usage: "start shared randomness preparation on a node",
	Flags: []cli.Flag{
		nodeFlag,
		timeoutFlag,
		&cli.IntFlag{Name: "parties", Value: protocol.PartyCount, Usage: "Number of parties"},
	},

	Action: func(cctx *cli.Context) error {
		v := url.Values{}
		v.Set(protocol.ParamParties, strconv.Itoa(cctx.Int("parties")))
		body, err := callNode(cctx.Context, cctx.String(nodeFlag.Name), services.CreateTriplesPath, v, cctx.Duration(timeoutFlag.Name))
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, body)
		return nil
	},
}

var seedCmd = &cli.Command{
	Name:      "seed",
	Usage:     "insert or replace a count in the local store",
	ArgsUsage: "<criterion> <count>",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{Name: "driver", Usage: "sqlite3 or postgres, overrides the config"},
		&cli.StringFlag{Name: "dsn", Usage: "Data source name, overrides the config"},
	},

	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return fmt.Errorf("expected <criterion> <count>")
		}
		criterion, err := protocol.ParseCriterion(cctx.Args().Get(0))
		if err != nil {
			return err
		}
		count, err := protocol.ParseCount(cctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("invalid count: %w", err)
		}

		cfg, err := loadConfiguration(cctx.String(configFlag.Name))
		if err != nil {
			return err
		}
		store := cfg.Resolver.Store
		if cctx.IsSet("driver") {
			store.Driver = cctx.String("driver")
		}
		if cctx.IsSet("dsn") {
			store.DSN = cctx.String("dsn")
		}
		store.Migrate = true

		db, err := counts.OpenStore(store)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := counts.SeedCount(cctx.Context, db, store.Driver, criterion, count); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s = %s\n", criterion, count)
		return nil
	},
}

func callNode(ctx context.Context, base, path string, v url.Values, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+path+"?"+v.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
