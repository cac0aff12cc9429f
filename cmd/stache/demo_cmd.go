package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/keychain"
	"github.com/kaizencorps/stache/pkg/payload"
	"github.com/kaizencorps/stache/pkg/receipts"
	"github.com/kaizencorps/stache/pkg/scheduler"
	"github.com/kaizencorps/stache/pkg/service"
	"github.com/kaizencorps/stache/pkg/store"
	"github.com/kaizencorps/stache/pkg/token"
	"github.com/kaizencorps/stache/pkg/treasury"
	"github.com/kaizencorps/stache/pkg/vault"
)

// demoStep is one line of demo output.
type demoStep struct {
	Scenario string `json:"scenario"`
	Step     string `json:"step"`
	Result   string `json:"result"`
}

func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output steps as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	steps, err := runDemo(context.Background(), slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(steps); err != nil {
			_, _ = fmt.Fprintf(stderr, "demo: %v\n", err)
			return 1
		}
		return 0
	}
	scenario := ""
	for _, s := range steps {
		if s.Scenario != scenario {
			scenario = s.Scenario
			_, _ = fmt.Fprintf(stdout, "\n%s%s%s\n", colorBold+colorCyan, scenario, colorReset)
		}
		_, _ = fmt.Fprintf(stdout, "  %-34s %s\n", s.Step, s.Result)
	}
	return 0
}

func runDemo(ctx context.Context, logger *slog.Logger) ([]demoStep, error) {
	const (
		kc    custody.Key = "demo-keychain"
		alice custody.Key = "alice"
		bob   custody.Key = "bob"
		carol custody.Key = "carol/ata"
		watch custody.Key = "watch/ata"
	)
	keys := keychain.NewMemory()
	keys.AddKey(kc, alice, true)
	keys.AddKey(kc, bob, false)
	ledger := token.NewMemoryLedger()
	runner := scheduler.NewRunner(scheduler.Options{Logger: logger})

	svc, err := service.New(service.Options{
		Store:     store.NewMemoryStore(),
		Directory: keys,
		Ledger:    ledger,
		Scheduler: runner,
		Receipts:  receipts.NewMemoryStore(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var steps []demoStep
	add := func(scenario, step, format string, a ...any) {
		steps = append(steps, demoStep{Scenario: scenario, Step: step, Result: fmt.Sprintf(format, a...)})
	}
	balance := func(key custody.Key) uint64 {
		acc, err := ledger.Account(ctx, key)
		if err != nil {
			return 0
		}
		return acc.Amount
	}

	tr, err := svc.CreateTreasury(ctx, alice, kc, "demo", "acme")
	if err != nil {
		return nil, err
	}
	if err := ledger.Open(ctx, carol, "carol"); err != nil {
		return nil, err
	}

	const approval = "two-signature withdrawal"
	v, err := svc.CreateVault(ctx, alice, tr.Key, "payroll", vault.TwoSignature())
	if err != nil {
		return nil, err
	}
	vaultAcct := treasury.AccountKey(treasury.VaultKey(tr.Key, v.Index))
	if err := ledger.Mint(ctx, vaultAcct, 100); err != nil {
		return nil, err
	}
	add(approval, "create vault", "%s (index %d, balance %d)", v.Name, v.Index, balance(vaultAcct))

	d, err := svc.Withdraw(ctx, alice, tr.Key, v.Index, carol, 10)
	if err != nil {
		return nil, err
	}
	add(approval, "alice withdraws 10", "%s, action %d", d.Mode, d.ActionIndex)

	out, err := svc.ApproveAction(ctx, bob, tr.Key, v.Index, d.ActionIndex, vaultAcct, carol)
	if err != nil {
		return nil, err
	}
	add(approval, "bob approves", "executed=%t approvals=%d", out.Executed, out.Approvals)
	stored, err := svc.Vault(ctx, tr.Key, v.Index)
	if err != nil {
		return nil, err
	}
	add(approval, "balances", "vault=%d carol=%d pending=%d", balance(vaultAcct), balance(carol), len(stored.Pending))

	const auto = "balance automation"
	treasuryAcct := treasury.AccountKey(tr.Key)
	if err := ledger.Open(ctx, watch, "watch"); err != nil {
		return nil, err
	}
	if err := ledger.Mint(ctx, watch, 90); err != nil {
		return nil, err
	}
	if err := ledger.Mint(ctx, treasuryAcct, 50); err != nil {
		return nil, err
	}
	a, err := svc.CreateAutomation(ctx, alice, tr.Key, "topup")
	if err != nil {
		return nil, err
	}
	if err := svc.SetTrigger(ctx, alice, tr.Key, a.Index, payload.NewBalanceTrigger(watch, 100, false)); err != nil {
		return nil, err
	}
	if err := svc.SetAction(ctx, alice, tr.Key, a.Index, payload.NewTransfer(treasuryAcct, carol, 5)); err != nil {
		return nil, err
	}
	if err := svc.ActivateAutomation(ctx, alice, tr.Key, a.Index); err != nil {
		return nil, err
	}
	add(auto, "activate", "trigger balance(%s) < 100, transfer 5", watch)

	if _, err := runner.Tick(ctx, svc.FireByKey); err != nil {
		return nil, err
	}
	add(auto, "fire with balance 90", "carol=%d treasury=%d", balance(carol), balance(treasuryAcct))

	if err := ledger.Mint(ctx, watch, 60); err != nil {
		return nil, err
	}
	res, err := svc.FireAutomation(ctx, tr.Key, a.Index)
	if err != nil {
		return nil, err
	}
	add(auto, "fire with balance 150", "%s (%s)", res.Status, res.Reason)

	rs, err := svc.Receipts(ctx, tr.Key, 0)
	if err != nil {
		return nil, err
	}
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		add("receipts", string(r.Source), "%d %s -> %s %s", r.Amount, r.From, r.To, r.ContentHash[:19])
	}
	return steps, nil
}
