package main

import (
	"fmt"
	"os"

	"github.com/openedtech/tutorcore/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	router := a.BuildRouter()
	addr := ":" + a.Cfg.Port
	a.Log.Info("API server listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		a.Log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
