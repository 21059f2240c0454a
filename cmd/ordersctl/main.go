package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"orderdash/internal/app"
	"orderdash/internal/config"
	"orderdash/internal/dashboard"
	"orderdash/internal/orders"
	"orderdash/internal/tenancy"

	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "ordersctl",
		Usage: "inspect and sync the order dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "dashboard API origin",
				Value:   "http://localhost:" + config.DefaultPort,
				EnvVars: []string{"ORDERDASH_URL"},
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "sync secret sent as X-SYNC-SECRET",
				EnvVars: []string{"SYNC_SECRET"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list orders of the last 60 days",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "shop", Usage: "tenant; empty lists every shop"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "per-page", Value: orders.DefaultPerPage},
				},
				Action: listOrders,
			},
			{
				Name:  "sync",
				Usage: "trigger a sync through the API, then reload the page",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "shop", Required: true},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "per-page", Value: orders.DefaultPerPage},
				},
				Action: syncOrders,
			},
			{
				Name:  "import",
				Usage: "run a one-shot sync in-process against the configured store",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "shop", Required: true},
					&cli.StringFlag{Name: "token", Usage: "access token; defaults to the stored credential", EnvVars: []string{"SHOPIFY_ACCESS_TOKEN"}},
				},
				Action: importOrders,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ordersctl:", err)
		os.Exit(1)
	}
}

func client(c *cli.Context) *dashboard.Client {
	return dashboard.NewClient(c.String("base-url"), c.String("secret"))
}

func listOrders(c *cli.Context) error {
	res, err := client(c).ListOrders(c.Context, c.String("shop"), c.Int("page"), c.Int("per-page"))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func syncOrders(c *cli.Context) error {
	syncRes, list, err := client(c).Refresh(c.Context, c.String("shop"), c.Int("page"), c.Int("per-page"))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"sync": syncRes.Result, "meta": list.Meta, "orders": list.Orders})
}

func importOrders(c *cli.Context) error {
	logger := config.GetLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.SetLogLevel(cfg.LogLevel)

	a, err := app.Build(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	shop, token, source, err := resolveImport(c.Context, a.Credentials, c.String("shop"), c.String("token"))
	if err != nil {
		return err
	}
	logger.WithField("shop", shop).WithField("credential_source", source).Info("manual import")

	res, err := a.Engine.Sync(c.Context, shop, token)
	if err != nil {
		return fmt.Errorf("import %s (imported %d before failure): %w", shop, res.Imported, err)
	}
	return printJSON(res)
}

type credentialResolver interface {
	Resolve(ctx context.Context, shop, sessionToken string) (token, source string, err error)
}

// resolveImport looks the token up under the canonical shop name, the key
// integrations are stored by.
func resolveImport(ctx context.Context, creds credentialResolver, rawShop, token string) (shop, accessToken, source string, err error) {
	shop = tenancy.NormalizeShop(rawShop)
	if shop == "" {
		return "", "", "", fmt.Errorf("missing shop")
	}
	accessToken, source, err = creds.Resolve(ctx, shop, token)
	if err != nil {
		return "", "", "", err
	}
	return shop, accessToken, source, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
