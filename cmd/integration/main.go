// Command integration runs an end-to-end smoke check against the Tradier
// sandbox: config, market data failover, broker connectivity, and a preview
// order. It never submits a live order; a non-sandbox account is refused.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/config"
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("=== goldflipper sandbox integration check ===")
	fmt.Println()

	_ = godotenv.Load()

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)

	path := os.Getenv("GOLDFLIPPER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	account, err := cfg.Broker.Account()
	if err != nil {
		logger.Fatalf("Broker account: %v", err)
	}
	if !account.Sandbox {
		logger.Fatalf("Integration checks require a sandbox account; %q is live", account.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	clock, err := marketclock.New(cfg.Market.Timezone)
	if err != nil {
		logger.Fatalf("Market clock: %v", err)
	}

	// Market data through the full failover gateway.
	var providers []marketdata.Provider
	for _, p := range cfg.MarketData.EnabledProviders() {
		switch p.Name {
		case "tradier":
			providers = append(providers, marketdata.NewTradierProvider(p.Name, p.BaseURL, p.APIKey))
		case "marketdataapp":
			providers = append(providers, marketdata.NewMarketDataAppProvider(p.Name, p.BaseURL, p.APIKey))
		}
	}
	gateway, err := marketdata.NewGateway(providers, clock, logger, filepath.Join(os.TempDir(), "goldflipper-e2e"))
	if err != nil {
		logger.Fatalf("Gateway: %v", err)
	}

	quote, err := gateway.GetStockQuote(ctx, "SPY")
	if err != nil {
		logger.Fatalf("Stock quote: %v", err)
	}
	logger.Printf("SPY %s / %s (last %s)", quote.Bid, quote.Ask, quote.Last)

	expiration := nextFriday(clock.Now())
	chain, err := gateway.GetOptionChain(ctx, "SPY", expiration)
	if err != nil {
		logger.Fatalf("Option chain: %v", err)
	}
	logger.Printf("Chain %s: %d calls, %d puts", expiration.Format("2006-01-02"),
		len(chain.Calls), len(chain.Puts))
	if len(chain.Puts) == 0 {
		logger.Fatal("Chain has no puts; aborting")
	}

	// Broker connectivity plus a preview-only order on a real contract.
	client := broker.NewTradierBroker(account.Name, account.APIKey, account.AccountID, true)
	balances, err := client.GetAccount(ctx)
	if err != nil {
		logger.Fatalf("Account: %v", err)
	}
	logger.Printf("Account ok: equity=%s option_bp=%s", balances.TotalEquity, balances.OptionBuyingPower)

	contract := chain.Puts[len(chain.Puts)/2]
	req := broker.OrderRequest{
		ClientOrderID: broker.NewClientOrderID("e2e", models.BuyToOpen, contract.OCCSymbol, 1),
		OCCSymbol:     contract.OCCSymbol,
		Underlying:    "SPY",
		Action:        models.BuyToOpen,
		Quantity:      1,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    contract.Bid,
		Duration:      "day",
		Preview:       true,
	}
	if _, err := client.SubmitOrder(ctx, req); err != nil {
		logger.Fatalf("Preview order: %v", err)
	}
	logger.Printf("Preview order accepted for %s", contract.OCCSymbol)

	fmt.Println()
	fmt.Println("All checks passed.")
}

func nextFriday(now time.Time) models.Date {
	d := now
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	return models.DateOf(d)
}
