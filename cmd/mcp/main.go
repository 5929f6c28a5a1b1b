package main

import (
	"os"
	"time"

	"go.uber.org/zap"
)

func main() {
	// stdout carries the protocol; the production logger writes to stderr
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	server := NewMCPServer(time.Now, logger)
	if err := server.Run(os.Stdin, os.Stdout); err != nil {
		logger.Fatal("mcp server", zap.Error(err))
	}
}
