package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openedtech/tutorcore/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := a.BuildWorkers()
	workers.Start(ctx)
	a.Log.Info("Workers started", "queues", a.Cfg.WorkerQueues)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	a.Log.Info("Shutting down workers...")
	cancel()
	workers.Wait()
}
