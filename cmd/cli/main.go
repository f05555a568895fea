package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"oraclegate/internal/cli"
	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/proxy"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "oraclectl",
		Short:   "Operate an oraclegate gateway and backend deployment",
		Version: version,
	}

	rootCmd.AddCommand(
		newHealthCmd(),
		newDoctorCmd(),
		newKeystoreCmd(),
		newEventsCmd(),
		newAdminCmd(),
		newPayCmd(),
	)

	return rootCmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the configured gateway and upstream RPC health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Health()
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check this host's prerequisites for running the oracle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Doctor()
		},
	}
}

func newKeystoreCmd() *cobra.Command {
	keystoreCmd := &cobra.Command{
		Use:   "keystore",
		Short: "Inspect or rotate the oracle's signing keystore",
	}

	keystoreCmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print the oracle's current public identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.KeystoreInspect(cmd.Context())
		},
	})

	keystoreCmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Retire the current signing secrets and generate new ones (requires TOTP confirmation)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.KeystoreRotate(cmd.Context())
		},
	})

	return keystoreCmd
}

func newEventsCmd() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect scheduled derivatives events",
	}

	var horizon time.Duration
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List announced events maturing within the given horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEvents(cmd.Context(), horizon)
		},
	}
	listCmd.Flags().DurationVar(&horizon, "horizon", 48*time.Hour, "how far ahead to list events")
	eventsCmd.AddCommand(listCmd)

	return eventsCmd
}

func listEvents(ctx context.Context, horizon time.Duration) error {
	database, err := db.New(db.LoadConfig())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	events, err := database.ListEventsMaturingBefore(ctx, time.Now().UTC().Add(horizon))
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("no events in range")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s  %-10s  maturity=%s  status=%s  digits=%d\n",
			ev.EventID, ev.Pair, ev.Maturity.Format(time.RFC3339), ev.Status, ev.DigitCount)
	}
	return nil
}

func newPayCmd() *cobra.Command {
	var gateway, network string

	payCmd := &cobra.Command{
		Use:   "pay [route]",
		Short: "Run one paid query against the gateway's stablecoin rail using the self-test payer wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Pay(cmd.Context(), gateway, args[0], network)
		},
	}
	payCmd.PersistentFlags().StringVar(&gateway, "gateway", "http://127.0.0.1:9000", "gateway base URL")
	payCmd.PersistentFlags().StringVar(&network, "network", "base-sepolia", "EVM network the payer wallet signs for")

	payCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the self-test payer wallet in the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PayerInit(network)
		},
	})
	payCmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Print the self-test payer wallet's USDC balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PayerBalance(cmd.Context(), network)
		},
	})

	return payCmd
}

func newAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator admin-surface helpers",
	}

	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint an HS256 admin session token for the operator endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Admin.JWTSecret == "" {
				return fmt.Errorf("ADMIN_JWT_SECRET is not set")
			}
			token, err := proxy.MintAdminToken(cfg.Admin.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "token validity duration")
	adminCmd.AddCommand(tokenCmd)

	return adminCmd
}
