package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"TokenAction-Chain/internal/action"
	"TokenAction-Chain/internal/app"
	"TokenAction-Chain/internal/config"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/token"
	"TokenAction-Chain/pkg/logger"
	"TokenAction-Chain/sdk/go/tokenaction"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	chain      string
	apiURL     string
	username   string
	password   string
	timeout    time.Duration
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "tokenaction",
		Short: "Check balances of and mint the configured token",
		Long: `tokenaction runs the token actions from the command line.

By default actions run in-process using the configuration file named by
TOKENACTION_CONFIG (configs/tokenaction.json when unset). With --api the
command talks to a running tokenactiond instead, authenticating with
--user and the password from TOKENACTION_PASSWORD when auth is enabled.

A mint reports success once the node accepted the transaction. A mint that
fails with SUBMISSION_AMBIGUOUS may still land on chain: look the hash up
before running the command again.`,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，默认读取 TOKENACTION_CONFIG")
	flags.StringVar(&opts.chain, "chain", "", "目标链名称，默认使用配置中的默认链")
	flags.StringVar(&opts.apiURL, "api", os.Getenv("TOKENACTION_API_URL"), "tokenactiond 地址，设置后通过 API 执行")
	flags.StringVar(&opts.username, "user", os.Getenv("TOKENACTION_USER"), "API 账号")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "整个命令的超时时间")
	flags.BoolVar(&opts.jsonOutput, "json", false, "以 JSON 输出结果")
	opts.password = os.Getenv("TOKENACTION_PASSWORD")

	root.AddCommand(newBalanceCmd(opts), newMintCmd(opts), newChainsCmd(opts))
	return root
}

func newBalanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address or description>",
		Short: "Show the token balance of an account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reference := strings.Join(args, " ")
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if opts.apiURL != "" {
				client, err := opts.client(ctx)
				if err != nil {
					return err
				}
				inv, err := client.Balance(ctx, reference, opts.chain)
				if err != nil {
					return err
				}
				return printInvocation(cmd.OutOrStdout(), cmd.ErrOrStderr(), inv, opts.jsonOutput)
			}
			return opts.runLocal(ctx, cmd, action.Request{Kind: action.KindRead, Reference: reference, Chain: opts.chain})
		},
	}
}

func newMintCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mint [recipient] [amount]",
		Short: "Mint tokens to a recipient",
		Long: `Mint tokens to a recipient. Missing recipient or amount fall back to the
defaults in the actions.mint section of the configuration.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reference, rawAmount string
			if len(args) > 0 {
				reference = args[0]
			}
			if len(args) > 1 {
				rawAmount = args[1]
			}
			var amount *big.Int
			if rawAmount != "" {
				parsed, err := token.ParseAmount(rawAmount)
				if err != nil {
					return err
				}
				if parsed.Sign() <= 0 {
					return xerrors.New(xerrors.CodeInvalidAmount, "数量必须为正整数")
				}
				amount = parsed
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if opts.apiURL != "" {
				client, err := opts.client(ctx)
				if err != nil {
					return err
				}
				normalized := ""
				if amount != nil {
					normalized = amount.String()
				}
				inv, err := client.Mint(ctx, reference, normalized, opts.chain)
				if err != nil {
					return err
				}
				return printInvocation(cmd.OutOrStdout(), cmd.ErrOrStderr(), inv, opts.jsonOutput)
			}
			return opts.runLocal(ctx, cmd, action.Request{Kind: action.KindWrite, Reference: reference, Amount: amount, Chain: opts.chain})
		},
	}
}

func newChainsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List configured chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			if opts.apiURL != "" {
				client, err := opts.client(ctx)
				if err != nil {
					return err
				}
				chains, err := client.Chains(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return json.NewEncoder(out).Encode(chains)
				}
				for _, chain := range chains {
					fmt.Fprintf(out, "%s\tchain_id=%s\tconfigured=%t\tcan_sign=%t\tdefault=%t\n",
						chain.Name, chain.ChainID, chain.Configured, chain.CanSign, chain.Default)
				}
				return nil
			}

			rt, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			chains := rt.Chains.Describe()
			if opts.jsonOutput {
				return json.NewEncoder(out).Encode(chains)
			}
			for _, chain := range chains {
				fmt.Fprintf(out, "%s\tchain_id=%s\tconfigured=%t\tcan_sign=%t\tdefault=%t\n",
					chain.Name, chain.ChainID, chain.Configured, chain.CanSign, chain.Default)
			}
			return nil
		},
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	path := o.configPath
	if path == "" {
		path = config.PathFromEnv()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func (o *options) build(ctx context.Context) (*app.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if level == "info" {
		level = "warn"
	}
	if err := logger.Init(logger.Config{Service: "tokenaction", Level: level, Format: "text", OutputPaths: []string{"stderr"}}); err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func (o *options) runLocal(ctx context.Context, cmd *cobra.Command, req action.Request) error {
	rt, err := o.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	defer func() { _ = logger.Sync() }()

	stderr := cmd.ErrOrStderr()
	result, err := rt.Core.Execute(ctx, req, func(_ context.Context, text string) {
		if !o.jsonOutput {
			fmt.Fprintln(stderr, text)
		}
	})
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeSubmissionAmbiguous) {
			fmt.Fprintln(stderr, "warning: the transaction may still be included; check the chain before minting again")
		}
		return err
	}
	if o.jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return nil
}

func (o *options) client(ctx context.Context) (*tokenaction.Client, error) {
	client, err := tokenaction.NewClient(o.apiURL, nil)
	if err != nil {
		return nil, err
	}
	if o.username != "" {
		if _, err := client.Authenticate(ctx, tokenaction.Credentials{Username: o.username, Password: o.password}); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func printInvocation(stdout, stderr io.Writer, inv *tokenaction.Invocation, jsonOutput bool) error {
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(inv); err != nil {
			return err
		}
	} else {
		for _, line := range inv.Progress {
			fmt.Fprintln(stderr, line)
		}
	}
	if inv.Status != tokenaction.StatusSucceeded {
		if inv.Ambiguous {
			fmt.Fprintln(stderr, "warning: the transaction may still be included; check the chain before minting again")
		}
		return fmt.Errorf("%s: %s", inv.ErrorCode, inv.LastError)
	}
	if !jsonOutput && inv.Outcome != nil {
		fmt.Fprintln(stdout, inv.Outcome.Text)
	}
	return nil
}
