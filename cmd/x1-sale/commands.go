package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-sale/internal/version"
	"github.com/fortiblox/x1-sale/pkg/config"
	"github.com/fortiblox/x1-sale/pkg/node"
	"github.com/fortiblox/x1-sale/pkg/rpc"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "x1-sale",
		Short: "Whitelisted token sale node",
		Long: `x1-sale runs a local ledger with the sale program.

Configuration is read from --config (YAML, TOML or JSON) and every key can
be overridden with an X1SALE_ environment variable, e.g. X1SALE_RPC_ADDR.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the node configuration file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAddressCommand())
	cmd.AddCommand(newSaleCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.ConfigPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Log.ConfigureLogging(); err != nil {
		return errors.Wrap(err, "configure logging")
	}

	logrus.WithFields(logrus.Fields{
		"version": version.Version,
		"commit":  version.GitCommit,
		"storage": cfg.Ledger.Storage,
	}).Info("starting x1-sale")

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	runErr := n.Run(ctx)
	if err := n.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the sale program id and sale config address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAddresses(cmd.OutOrStdout())
		},
	}
}

func printAddresses(w io.Writer) error {
	address, bump, err := sale.GetSaleAddress()
	if err != nil {
		return errors.Wrap(err, "derive sale address")
	}
	fmt.Fprintf(w, "program: %s\n", sale.ProgramID)
	fmt.Fprintf(w, "sale:    %s\n", address)
	fmt.Fprintf(w, "bump:    %d\n", bump)
	return nil
}

// saleOptions holds flags for the sale command.
type saleOptions struct {
	URL     string
	Timeout time.Duration
}

func newSaleCommand() *cobra.Command {
	opts := &saleOptions{}

	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Print the sale configuration of a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := rpc.NewClient(opts.URL, opts.Timeout)
			return printSale(cmd.Context(), cmd.OutOrStdout(), client)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://127.0.0.1:8899", "JSON-RPC endpoint of the node")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", rpc.DefaultClientTimeout, "request timeout")

	return cmd
}

func printSale(ctx context.Context, w io.Writer, client *rpc.Client) error {
	slot, err := client.GetSlot(ctx)
	if err != nil {
		return errors.Wrap(err, "get slot")
	}
	info, err := client.GetSaleConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "get sale config")
	}

	fmt.Fprintf(w, "slot:      %d\n", slot)
	if info == nil {
		fmt.Fprintln(w, "sale:      not initialized")
		return nil
	}
	fmt.Fprintf(w, "sale:      %s\n", info.Address)
	fmt.Fprintf(w, "authority: %s\n", info.Authority)
	fmt.Fprintf(w, "mint:      %s\n", info.TokenMint)
	fmt.Fprintf(w, "vault:     %s\n", info.TokenVault)
	fmt.Fprintf(w, "price:     %d lamports\n", info.PricePerToken)
	fmt.Fprintf(w, "max:       %d per wallet\n", info.MaxTokensPerWallet)
	fmt.Fprintf(w, "whitelist: %s\n", strings.Join(info.Whitelist, ", "))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "x1-sale %s (%s, built %s, feature set %d)\n",
				version.Version, version.GitCommit, version.BuildTime, version.FeatureSet)
		},
	}
}
