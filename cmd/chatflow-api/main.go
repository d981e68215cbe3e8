// Package main provides the Chatflow API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:                  "chatflow-api",
		Usage:                 "Serve live-chat conversations for the widget and the agent dashboard",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		cancel()
		panic(err)
	}
}
