// Command gridbot is the trading-core process: it loads every active bot
// from persistence, installs its pipeline (gateway + state machine +
// router), and runs until terminated. The HTTP/HTML admin surface (spec
// §1) is a separate, out-of-scope process that would import
// internal/admin and internal/supervisor directly.
package main

import (
	"flag"
	"fmt"
	"os"

	"gridbot/internal/bootstrap"
	"gridbot/internal/core"
	"gridbot/internal/gateway"
	"gridbot/internal/supervisor"
)

var (
	version = "dev"
)

func main() {
	symbolFilters := flag.String("symbol-filters", "", "Path to a YAML symbol filter overlay (spec §6)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gridbot " + version)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*symbolFilters)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridbot: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	sup := supervisor.New(app.Store, app.Filters, app.Logger, gatewayFactory(app))

	if err := app.Run(sup); err != nil {
		os.Exit(1)
	}
}

// gatewayFactory builds one Binance gateway per bot, using that bot's own
// credentials (spec §9 "credential isolation": never a process-wide
// exchange client shared across bots).
func gatewayFactory(app *bootstrap.App) supervisor.GatewayFactory {
	return func(bot *core.Bot) gateway.Gateway {
		return gateway.NewBinance(gateway.BinanceConfig{
			APIKey:    bot.APIKey,
			APISecret: bot.APISecret,
			Testnet:   app.Cfg.ExchangeTestnet,
		}, app.Logger.WithField("bot_id", bot.ID.String()))
	}
}
