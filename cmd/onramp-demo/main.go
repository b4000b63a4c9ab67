// Command onramp-demo drives a full onramp flow against an order proxy from
// the terminal, standing in for the browser UI. Widgets are simulated: the
// identity verification and card payment steps auto-complete after a short
// delay so the whole order lifecycle can be observed end to end.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Crossmint/onramp-quickstart/internal/onramp"
	"github.com/Crossmint/onramp-quickstart/internal/widget"
)

func main() {
	var (
		apiURL     string
		amount     string
		email      string
		wallet     string
		verbose    bool
		failWidget bool
	)

	flag.StringVar(&apiURL, "api", "http://localhost:8080", "order proxy base URL")
	flag.StringVar(&amount, "amount", "20", "fiat amount in USD")
	flag.StringVar(&email, "email", "", "receipt email address")
	flag.StringVar(&wallet, "wallet", "", "destination wallet address")
	flag.BoolVar(&verbose, "v", false, "log state machine internals")
	flag.BoolVar(&failWidget, "fail-widget", false, "simulate a widget runtime failure")
	flag.Parse()

	if email == "" || wallet == "" {
		slog.Error("both -email and -wallet are required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, apiURL, amount, email, wallet, verbose, failWidget); err != nil {
		slog.Error("onramp flow failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("onramp flow completed successfully")
}

func run(ctx context.Context, apiURL, amount, email, wallet string, verbose, failWidget bool) error {
	lg := zap.NewNop()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return errors.Wrap(err, "create logger")
		}
		defer func() { _ = dev.Sync() }()
		lg = dev
	}

	updates := make(chan onramp.Order, 16)
	m := onramp.NewMachine(
		onramp.NewClient(apiURL),
		email, wallet,
		onramp.MachineConfig{
			OnChange: func(o onramp.Order) { updates <- o },
		},
		lg.Named("machine"),
	)

	loader := &widget.SimulatedLoader{
		ReadyDelay:    500 * time.Millisecond,
		CompleteDelay: 2 * time.Second,
		FailRuntime:   failWidget,
	}
	identity := widget.NewIdentityAdapter(loader, m, lg.Named("identity"))
	payment := widget.NewPaymentAdapter(loader, m, lg.Named("payment"))
	defer identity.Unmount()
	defer payment.Unmount()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return render(ctx, identity, payment, updates)
	})

	if err := m.CreateOrder(ctx, amount); err != nil {
		return errors.Wrap(err, "create order")
	}
	return g.Wait()
}

// render consumes order updates, narrates them, and mounts the matching
// simulated widget for each interactive phase until the flow ends.
func render(ctx context.Context, identity *widget.IdentityAdapter, payment *widget.PaymentAdapter, updates <-chan onramp.Order) error {
	for {
		var o onramp.Order
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o = <-updates:
		}

		if msg := o.Status.Message(); msg != "" {
			slog.Info(msg, slog.String("status", string(o.Status)))
		}

		switch o.Status {
		case onramp.StatusRequiresKYC:
			if o.TotalUSD != "" {
				slog.Info("order quoted",
					slog.String("total_usd", o.TotalUSD),
					slog.String("effective_amount", o.EffectiveAmount),
				)
			}
			if err := identity.Mount(ctx); err != nil {
				return errors.Wrap(err, "mount identity widget")
			}

		case onramp.StatusAwaitingPayment:
			if err := payment.Mount(ctx); err != nil {
				return errors.Wrap(err, "mount payment widget")
			}

		case onramp.StatusSuccess:
			if o.TxID != "" {
				slog.Info("tokens delivered", slog.String("tx_id", o.TxID))
			}
			return nil

		default:
			if o.Status.Terminal() {
				if o.Error != "" {
					return errors.New(o.Error)
				}
				return errors.Errorf("flow ended in status %q", o.Status)
			}
		}
	}
}
