package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/branchchat-backend/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(); err != nil {
		application.Log.Error("start failed", "error", err)
		return
	}
	if err := application.Run(ctx); err != nil {
		application.Log.Error("server exited", "error", err)
		return
	}
	application.Log.Info("server stopped")
}
