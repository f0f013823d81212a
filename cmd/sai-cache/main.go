package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"

	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/policy"
	"github.com/saiset-co/sai-cache/service"
	"github.com/saiset-co/sai-cache/types"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the YAML configuration file",
	Value:   "config.yml",
	EnvVars: []string{"SAI_CACHE_CONFIG"},
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sai-cache",
		Usage: "adaptive two-tier cache manager",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the cache service with its admin HTTP server",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:   "policies",
				Usage:  "Print the resolved policy table as JSON",
				Flags:  []cli.Flag{configFlag},
				Action: printPolicies,
				Subcommands: []*cli.Command{
					{
						Name:  "seed",
						Usage: "Write policy records from a YAML file into the configured sqlite or clover source",
						Flags: []cli.Flag{
							configFlag,
							&cli.StringFlag{Name: "from", Usage: "YAML file with a top-level policies list", Required: true},
						},
						Action: seedPolicies,
					},
				},
			},
			{
				Name:  "config",
				Usage: "Inspect the resolved configuration",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print the value at a dotted path, or every path when none is given",
						ArgsUsage: "[path]",
						Flags:     []cli.Flag{configFlag},
						Action:    configGet,
					},
				},
			},
		},
	}
}

func serve(c *cli.Context) error {
	svc, err := service.NewService(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	return svc.Start()
}

func printPolicies(c *cli.Context) error {
	cfg, err := config.NewLoader().LoadFromFile(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	source, err := policy.NewSource(cfg.PolicySource)
	if err != nil {
		return err
	}

	registry := policy.NewRegistry(logger.NewNop())
	if source != nil {
		timeout := cfg.PolicySource.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}

		ctx, cancel := context.WithTimeout(c.Context, timeout)
		defer cancel()

		if err := registry.Load(ctx, source); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", err)
		}
	}

	return writeJSON(c, registry.Policies())
}

func seedPolicies(c *cli.Context) error {
	cfg, err := config.NewLoader().LoadFromFile(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	records, err := policy.NewFileSource(c.String("from")).Policies(c.Context)
	if err != nil {
		return err
	}

	switch cfg.PolicySource.Type {
	case "sqlite":
		err = policy.SeedSQLite(c.Context, cfg.PolicySource.Path, records)
	case "clover":
		err = policy.SeedClover(cfg.PolicySource.Path, records)
	default:
		return types.Errorf(types.ErrInvalidParameter, "policy source %q cannot be seeded", cfg.PolicySource.Type)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "seeded %d policies into %s\n", len(records), cfg.PolicySource.Path)
	return nil
}

func configGet(c *cli.Context) error {
	cm, err := config.NewConfigurationManager(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	path := c.Args().First()
	if path == "" {
		return writeJSON(c, cm.Paths())
	}

	value := cm.GetValue(path, nil)
	if value == nil {
		return types.Errorf(types.ErrConfigInvalidPath, "path: %s", path)
	}

	return writeJSON(c, value)
}

func writeJSON(c *cli.Context, value interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}
