package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickrelay/config"
	"tickrelay/logger"
	"tickrelay/pkg/relayclient"
	"tickrelay/pkg/reconciler"

	"go.uber.org/zap"
)

// watch connects to a running relay and logs every reconciled update.
// Symbols default to the configured tracked symbols; pass others as arguments.
func main() {
	cfg := config.Load()

	log, err := logger.New("tickrelay-watch", cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	symbols := cfg.Relay.TrackedSymbols
	if len(os.Args) > 1 {
		symbols = os.Args[1:]
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	url := fmt.Sprintf("ws://%s:%d/ws", host, cfg.Server.Port)

	client := relayclient.New(url, relayclient.Options{}, log)
	book := client.Book()
	client.OnUpdate(func(symbol string, action reconciler.Action) {
		if action == reconciler.ActionIgnored {
			return
		}
		last, _ := book.Last(symbol)
		log.Info("series updated",
			zap.String("symbol", symbol),
			zap.String("action", action.String()),
			zap.Int("points", len(book.Points(symbol))),
			zap.Int64("time", last.Time),
			zap.Float64("price", last.Value))
	})
	if err := client.Subscribe(symbols...); err != nil {
		log.Fatal("subscribe failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil {
		log.Error("watch stopped with error", zap.Error(err))
	}
}
