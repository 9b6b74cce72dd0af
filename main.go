package main

import (
	"context"

	"sjsage522/noticewatcher/cmd"
	"sjsage522/noticewatcher/logger"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()

	cmd.ExecuteContext(context.Background())
}
