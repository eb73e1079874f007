package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"QuantPull/internal/di"
	"QuantPull/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	bars := flag.Bool("bars", true, "enable the bars poller")
	orderBooks := flag.Bool("orderbooks", true, "enable the order-books poller")
	symbols := flag.String("symbols", "", "comma-separated symbol override")
	riskTolerance := flag.Float64("risk_tolerance", 0, "risk tolerance override, fraction of equity")
	takeProfit := flag.Float64("take_profit_ratio", 0, "take-profit ratio override")
	stopLoss := flag.Float64("stop_loss_ratio", 0, "stop-loss ratio override")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	// flag overrides sit on top of file and env settings
	cfg.Pollers.Bars.Enabled = *bars
	cfg.Pollers.OrderBooks.Enabled = *orderBooks
	if *symbols != "" {
		cfg.Alpaca.Symbols = strings.Split(*symbols, ",")
	}
	if *riskTolerance > 0 {
		cfg.Strategy.RiskTolerance = *riskTolerance
	}
	if *takeProfit > 0 {
		cfg.Strategy.TakeProfitRatio = *takeProfit
	}
	if *stopLoss > 0 {
		cfg.Strategy.StopLossRatio = *stopLoss
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
