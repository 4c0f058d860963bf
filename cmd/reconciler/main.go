// Command reconciler runs the bank reconciliation API and its maintenance
// commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bank-recon/pkg/api"
	"bank-recon/pkg/audit"
	"bank-recon/pkg/config"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/store/postgres"

	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	cmdApp := cli.NewApp()
	cmdApp.Name = "reconciler"
	cmdApp.Usage = "bank transaction reconciliation and bank integration gateway"
	cmdApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file read before the environment"},
	}
	cmdApp.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP API",
			Action: withApp(logger, serve),
		},
		{
			Name:  "migrate",
			Usage: "create or update the database schema",
			Action: func(c *cli.Context) error {
				cfg, err := config.Load(c.GlobalString("env-file"))
				if err != nil {
					return err
				}
				ctx := context.Background()
				store, err := postgres.Open(ctx, cfg.Postgres, logger)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				logger.Info("database migrated")
				return nil
			},
		},
		{
			Name:      "process",
			Usage:     "process an open reconciliation run",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "id", Usage: "reconciliation id"},
			},
			Action: withApp(logger, process),
		},
		{
			Name:  "sync",
			Usage: "pull bank statements for an account or every account of a company",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "account", Usage: "account id"},
				cli.Int64Flag{Name: "company", Usage: "company id"},
				cli.StringFlag{Name: "banks", Usage: "comma separated bank codes to restrict a company sync"},
			},
			Action: withApp(logger, syncStatements),
		},
	}

	if err := cmdApp.Run(os.Args); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

// withApp loads the configuration and wires the application around action.
func withApp(logger *logging.Logger, action func(c *cli.Context, a *app) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("env-file"))
		if err != nil {
			return err
		}
		a, err := newApp(context.Background(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		return action(c, a)
	}
}

func serve(c *cli.Context, a *app) error {
	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = a.cfg.HTTP.Address
	serverConfig.ReadTimeout = a.cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = a.cfg.HTTP.WriteTimeout
	serverConfig.JWTSecret = a.cfg.JWT.Secret
	serverConfig.JWTIssuer = a.cfg.JWT.Issuer
	serverConfig.MaxWebhookBytes = a.cfg.HTTP.MaxWebhookBytes
	serverConfig.Registry = a.registry
	serverConfig.Logger = a.logger

	server, err := api.NewServer(api.Deps{
		Recon:       a.recon,
		Integration: a.integration,
		Chain:       a.chain,
		DB:          a.store,
	}, serverConfig)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		a.logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

func process(c *cli.Context, a *app) error {
	id := c.Int64("id")
	if id == 0 && c.NArg() > 0 {
		if _, err := fmt.Sscan(c.Args().First(), &id); err != nil {
			return fmt.Errorf("invalid reconciliation id %q", c.Args().First())
		}
	}
	if id <= 0 {
		return errors.New("a reconciliation id is required")
	}

	run, err := a.recon.Process(context.Background(), operator(), id)
	if err != nil {
		return err
	}
	a.logger.Info("reconciliation processed",
		logging.ReconciliationID(run.ID),
		zap.Int("total", run.Total),
		zap.Int("matched", run.Matched),
		zap.Int("pending", run.Pending),
	)
	return nil
}

func syncStatements(c *cli.Context, a *app) error {
	ctx := context.Background()
	account, company := c.Int64("account"), c.Int64("company")

	switch {
	case account > 0:
		res, err := a.integration.SyncTransactions(ctx, operator(), account)
		if err != nil {
			return err
		}
		a.logger.Info("account synced",
			logging.AccountID(res.AccountID),
			zap.Int("fetched", res.Fetched),
			zap.Int("inserted", res.Inserted),
		)
		return nil
	case company > 0:
		var banks []string
		if raw := c.String("banks"); raw != "" {
			for _, b := range strings.Split(raw, ",") {
				banks = append(banks, strings.TrimSpace(b))
			}
		}
		results, err := a.integration.SyncCompany(ctx, operator(), company, banks...)
		for _, res := range results {
			a.logger.Info("account synced",
				logging.AccountID(res.AccountID),
				logging.Bank(res.BankCode),
				zap.Int("inserted", res.Inserted),
			)
		}
		return err
	default:
		return errors.New("either --account or --company is required")
	}
}

// operator is the actor recorded for commands run from the shell.
func operator() audit.Actor {
	name := os.Getenv("USER")
	if name == "" {
		return audit.System
	}
	return audit.Actor{ID: "cli:" + name, Name: name}
}
