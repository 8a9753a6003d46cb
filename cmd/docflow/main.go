// Command docflow uploads documents, extracts their text and runs task transforms over it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// .env необязателен: переменные окружения могут прийти и из среды.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := NewApp("")
	err := newRootCmd(app).ExecuteContext(ctx)
	if shutdownErr := app.Shutdown(); err == nil {
		err = shutdownErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
