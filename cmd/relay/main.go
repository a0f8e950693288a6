package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"demo-call-service/internal/factory"
	"demo-call-service/internal/util"
)

func main() {
	f, err := factory.NewFactory(factory.RoleRelay)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 10*time.Second)
	f.LogHealth(healthCtx)
	cancelHealth()

	cfg := f.Config()
	relayServer := f.RelayServer()
	server := relayServer.HTTPServer(cfg.GetRelayAddress())

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Relay server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Relay server started",
		util.String("address", server.Addr),
		util.String("provider_url", cfg.Relay.ProviderWSURL),
		util.Bool("transcripts_indexed", cfg.Elasticsearch.URL != ""),
	)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting first, then end bridged sessions in Close.
	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown relay server gracefully", util.ErrorField(err))
	}
	f.Close()
}
