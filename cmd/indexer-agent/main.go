package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/graphprotocol/indexer-agent/cmd/indexer-agent/build"
	"github.com/graphprotocol/indexer-agent/internal/config"
)

// main initializes the indexer-agent and starts it when ready, the way
// the teacher's cmd/apiserver/main.go does for the ApiServer.
func main() {
	if isVersionRequest(os.Args[1:]) {
		build.PrintVersion()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	agent, err := NewAgent(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	setupSignals(agent, cancel)
	agent.Run(ctx)
}

// isVersionRequest checks for -v/--version ahead of config.Load so a
// malformed config file never blocks printing the version.
func isVersionRequest(args []string) bool {
	for _, a := range args {
		if a == "-v" || a == "--version" {
			return true
		}
	}
	return false
}

// setupSignals creates a system signal listener and handles graceful
// termination upon receiving one.
func setupSignals(agent *Agent, cancel context.CancelFunc) {
	ts := make(chan os.Signal, 1)
	signal.Notify(ts, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ts
		agent.Stop()
		cancel()
		os.Exit(0)
	}()
}
