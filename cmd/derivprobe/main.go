// derivprobe is a connectivity probe for the broker API: dial, optionally
// authorize, stream a few ticks and (optionally) price a throwaway proposal.
// Useful to verify app id, token scopes and network path before pointing the
// service at an account.
//
// Usage:
//
//	go run ./cmd/derivprobe -symbol R_100 -ticks 5
//	go run ./cmd/derivprobe -token a1-xxxx -propose
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dtrader/config"
	"dtrader/deriv"

	"github.com/joho/godotenv"
)

func main() {
	var (
		token   = flag.String("token", "", "API token; empty probes the public surface only")
		appID   = flag.String("app-id", "", "app id override (default from env / 1089)")
		symbol  = flag.String("symbol", "R_100", "symbol to stream")
		ticks   = flag.Int("ticks", 5, "number of ticks to stream before exiting")
		propose = flag.Bool("propose", false, "price a 1-tick CALL proposal (requires -token)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall probe deadline")
	)
	flag.Parse()

	_ = godotenv.Load()
	config.Init()
	cfg := config.Get()
	if *appID == "" {
		*appID = cfg.DerivAppID
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := deriv.New(deriv.Config{
		URL:      cfg.DerivWSURL,
		AppID:    *appID,
		Token:    *token,
		Language: cfg.DerivLanguage,
	})

	fmt.Printf("dialing %s (app id %s)...\n", cfg.DerivWSURL, *appID)
	if err := client.Connect(ctx); err != nil {
		fail("connect: %v", err)
	}
	defer client.Close()
	fmt.Println("✓ connected")

	currency := "USD"
	if *token != "" {
		authInfo, err := client.Authorize(ctx)
		if err != nil {
			fail("authorize: %v", err)
		}
		fmt.Printf("✓ authorized as %s (%s, virtual=%v)\n", authInfo.LoginID, authInfo.Currency, authInfo.IsVirtual == 1)
		if authInfo.Currency != "" {
			currency = authInfo.Currency
		}

		balance, err := client.Balance(ctx)
		if err != nil {
			fail("balance: %v", err)
		}
		fmt.Printf("✓ balance: %.2f %s\n", balance.Balance, balance.Currency)
	}

	symbols, err := client.ActiveSymbols(ctx)
	if err != nil {
		fail("active_symbols: %v", err)
	}
	fmt.Printf("✓ %d active symbols\n", len(symbols))

	if *ticks > 0 {
		sub, err := client.SubscribeTicks(ctx, *symbol)
		if err != nil {
			fail("subscribe %s: %v", *symbol, err)
		}
		fmt.Printf("streaming %d tick(s) of %s...\n", *ticks, *symbol)
		received := 0
		for received < *ticks {
			select {
			case tick, ok := <-sub.C:
				if !ok {
					fail("tick stream closed: %v", client.Err())
				}
				fmt.Printf("  %s  %f\n", time.Unix(tick.Epoch, 0).Format("15:04:05"), tick.Quote)
				received++
			case <-ctx.Done():
				fail("timed out waiting for ticks")
			}
		}
		_ = sub.Forget(ctx)
	}

	if *propose {
		if *token == "" {
			fail("-propose requires -token")
		}
		proposal, err := client.Proposal(ctx, deriv.ProposalRequest{
			ContractType:  "CALL",
			Symbol:        *symbol,
			Amount:        1.0,
			Currency:      currency,
			DurationTicks: 1,
		})
		if err != nil {
			fail("proposal: %v", err)
		}
		fmt.Printf("✓ 1-tick CALL on %s: stake %.2f → payout %.2f\n", *symbol, proposal.AskPrice, proposal.Payout)
	}

	fmt.Println("✓ probe complete")
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
