package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// UserAdd creates a user record.
func (r *Runner) UserAdd(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: a user name is required", shared.ErrInvalidInput)
	}

	stack, err := r.openStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	user := &models.User{Name: name}
	if err := stack.users.Create(user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return r.writePlain("created user %s (%s)\n", user.Name, user.ID)
}

// UserList prints all user records.
func (r *Runner) UserList(ctx context.Context, cmd *cli.Command) error {
	stack, err := r.openStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	users, err := stack.users.List()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for _, user := range users {
		linked := "unlinked"
		if user.WebToken != "" {
			linked = "linked"
		} else if user.HasCredential() {
			linked = "credential only"
		}
		if err := r.writePlain("%s  %-20s %s\n", user.ID, user.Name, linked); err != nil {
			return err
		}
	}

	return r.writePlain("%d users\n", len(users))
}
