package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"soundmesh/internal/server"
	"soundmesh/internal/shared"
)

// Serve runs the account-linking HTTP server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	stack, err := r.openStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	serverLogger := shared.WithLogger(r.logger, "component", "server")
	auth := server.NewAuthHandler(stack.users, stack.tokens, stack.client, config.Spotify, serverLogger)
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return server.NewServer(addr, auth, serverLogger).Start(ctx)
}
