package main

import (
	"context"
	"log"

	"github.com/yungbote/jobstream-backend/internal/app"
	"github.com/yungbote/jobstream-backend/internal/utils"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go utils.WaitForShutdownSignal(cancel)

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		a.Log.Error("Service exited with error", "error", err)
	}
}
