package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"multisender/cmd/internal/secret"
	"multisender/core/types"
	"multisender/gateway/middleware"
	api "multisender/sdk/multisend"
)

const (
	defaultURL     = "http://localhost:7090"
	urlEnv         = "MULTISEND_URL"
	tokenEnv       = "MULTISEND_TOKEN"
	secretEnv      = "MULTISEND_HMAC_SECRET"
	requestTimeout = 30 * time.Second
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

func commands() []command {
	return []command{
		{"token", "issue a signed bearer token", runToken},
		{"send-native", "send native value to many recipients", runSendNative},
		{"send-asset", "send a token to many recipients", runSendAsset},
		{"deposit", "send native value to the engine vault", runDeposit},
		{"receipt", "show an archived batch receipt", runReceipt},
		{"history", "list recent receipts of a sender", runHistory},
		{"stats", "show aggregate or per-sender statistics", runStats},
		{"estimate", "estimate the gas of a batch", runEstimate},
		{"owner", "show engine owner and configuration", runOwner},
		{"transfer-ownership", "hand the engine to a new owner", runTransferOwnership},
		{"renounce", "leave the engine without an owner", runRenounce},
		{"drain", "move the vault balance to the owner", runDrain},
		{"pause", "block new batches", runPause},
		{"resume", "lift a pause", runResume},
	}
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return fmt.Errorf("command required")
	}
	for _, cmd := range commands() {
		if cmd.name == args[0] {
			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			return cmd.run(ctx, args[1:], out)
		}
	}
	usage(out)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: multisendctl <command> [flags]")
	fmt.Fprintln(out)
	for _, cmd := range commands() {
		fmt.Fprintf(out, "  %-20s %s\n", cmd.name, cmd.summary)
	}
}

// clientFlags registers the connection flags shared by every remote command.
type clientFlags struct {
	url   *string
	token *string
}

func newFlagSet(name string) (*flag.FlagSet, clientFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cf := clientFlags{
		url:   fs.String("url", envOr(urlEnv, defaultURL), "multisendd base URL (env "+urlEnv+")"),
		token: fs.String("token", os.Getenv(tokenEnv), "bearer token (env "+tokenEnv+")"),
	}
	return fs, cf
}

func (cf clientFlags) client() (*api.Client, error) {
	if strings.TrimSpace(*cf.token) == "" {
		return nil, fmt.Errorf("bearer token required; pass -token or set %s", tokenEnv)
	}
	return api.New(*cf.url, *cf.token)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runToken(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "caller address carried in the sub claim")
	admin := fs.Bool("admin", false, "grant the "+middleware.ScopeAdmin+" scope")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "", "iss claim")
	audience := fs.String("audience", "", "aud claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := types.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	key, err := secret.NewSource(secretEnv, "token signing secret").Get()
	if err != nil {
		return err
	}
	spec := middleware.TokenSpec{Subject: addr, Issuer: *issuer, Audience: *audience, TTL: *ttl}
	if *admin {
		spec.Scopes = []string{middleware.ScopeAdmin}
	}
	signed, err := middleware.IssueToken(key, spec, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signed)
	return nil
}

func runSendNative(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("send-native")
	recipients := fs.String("recipients", "", "comma separated recipient addresses")
	amounts := fs.String("amounts", "", "comma separated amounts, one per recipient")
	value := fs.String("value", "", "value attached to the call; defaults to the sum of amounts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addrs, amts, err := parseBatch(*recipients, *amounts)
	if err != nil {
		return err
	}
	attached, err := attachedValue(*value, amts)
	if err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	receipt, err := client.SendNative(ctx, addrs, amts, attached)
	if err != nil {
		return err
	}
	return printReceipt(out, receipt)
}

func runSendAsset(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("send-asset")
	asset := fs.String("asset", "", "token contract address")
	recipients := fs.String("recipients", "", "comma separated recipient addresses")
	amounts := fs.String("amounts", "", "comma separated amounts, one per recipient")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := types.ParseAddress(*asset)
	if err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	addrs, amts, err := parseBatch(*recipients, *amounts)
	if err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	receipt, err := client.SendAsset(ctx, token, addrs, amts)
	if err != nil {
		return err
	}
	return printReceipt(out, receipt)
}

func printReceipt(out io.Writer, receipt *api.Receipt) error {
	if receipt == nil {
		fmt.Fprintln(out, "batch ignored by engine (silent policy)")
		return nil
	}
	return printJSON(out, receipt)
}

func parseBatch(rawRecipients, rawAmounts string) ([]common.Address, []*uint256.Int, error) {
	addrs, err := types.ParseAddresses(splitList(rawRecipients))
	if err != nil {
		return nil, nil, fmt.Errorf("recipients: %w", err)
	}
	amts, err := types.ParseAmounts(splitList(rawAmounts))
	if err != nil {
		return nil, nil, fmt.Errorf("amounts: %w", err)
	}
	return addrs, amts, nil
}

// attachedValue returns raw parsed, or the sum of amounts when raw is empty.
func attachedValue(raw string, amounts []*uint256.Int) (*uint256.Int, error) {
	if strings.TrimSpace(raw) != "" {
		return types.ParseAmount(raw)
	}
	total := new(uint256.Int)
	for _, amt := range amounts {
		if _, overflow := total.AddOverflow(total, amt); overflow {
			return nil, fmt.Errorf("amounts overflow 256 bits")
		}
	}
	return total, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runDeposit(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("deposit")
	amount := fs.String("amount", "", "amount to deposit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	amt, err := types.ParseAmount(*amount)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	if err := client.Deposit(ctx, amt); err != nil {
		return err
	}
	fmt.Fprintf(out, "deposited %s\n", amt.Dec())
	return nil
}

func runReceipt(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("receipt")
	id := fs.String("id", "", "receipt id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("id required")
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	receipt, err := client.Receipt(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(out, receipt)
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("history")
	sender := fs.String("sender", "", "sender address")
	limit := fs.Int("limit", 20, "maximum receipts to return")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := types.ParseAddress(*sender)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	list, err := client.SenderReceipts(ctx, addr, *limit)
	if err != nil {
		return err
	}
	return printJSON(out, api.ReceiptList{Receipts: list})
}

func runStats(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("stats")
	sender := fs.String("sender", "", "report the batch count of this sender instead of totals")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*sender) != "" {
		addr, err := types.ParseAddress(*sender)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		stats, err := client.SenderStats(ctx, addr)
		if err != nil {
			return err
		}
		return printJSON(out, stats)
	}
	stats, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

func runEstimate(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("estimate")
	mode := fs.String("mode", "native", "native or asset")
	recipients := fs.Uint64("recipients", 1, "number of recipients")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	est, err := client.Estimate(ctx, *mode, *recipients)
	if err != nil {
		return err
	}
	return printJSON(out, est)
}

func runOwner(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("owner")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	info, err := client.Info(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, info)
}

func runTransferOwnership(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("transfer-ownership")
	next := fs.String("new-owner", "", "address of the new owner")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := types.ParseAddress(*next)
	if err != nil {
		return fmt.Errorf("new-owner: %w", err)
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	if err := client.TransferOwnership(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(out, "ownership transferred to %s\n", addr.Hex())
	return nil
}

func runRenounce(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("renounce")
	confirm := fs.Bool("yes", false, "confirm; renouncing cannot be undone")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*confirm {
		return fmt.Errorf("renouncing ownership is permanent; pass -yes to confirm")
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	if err := client.RenounceOwnership(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "ownership renounced")
	return nil
}

func runDrain(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newFlagSet("drain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	amount, err := client.Drain(ctx)
	if err != nil {
		return err
	}
	if amount == nil {
		fmt.Fprintln(out, "drain ignored by engine (silent policy)")
		return nil
	}
	fmt.Fprintf(out, "drained %s\n", amount.Dec())
	return nil
}

func runPause(ctx context.Context, args []string, out io.Writer) error {
	return togglePause(ctx, "pause", args, out)
}

func runResume(ctx context.Context, args []string, out io.Writer) error {
	return togglePause(ctx, "resume", args, out)
}

func togglePause(ctx context.Context, name string, args []string, out io.Writer) error {
	fs, cf := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	if name == "pause" {
		err = client.Pause(ctx)
	} else {
		err = client.Resume(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s ok\n", name)
	return nil
}
