package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"soundmesh/internal/formatter"
	"soundmesh/internal/models"
	"soundmesh/internal/shared"
)

// Search runs one federated catalog query and prints the results.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	term := cmd.StringArg("term")
	if term == "" {
		return fmt.Errorf("%w: a search term is required", shared.ErrInvalidInput)
	}

	var kind models.ItemKind
	switch cmd.String("kind") {
	case "artist":
		kind = models.KindArtist
	case "album":
		kind = models.KindAlbum
	case "track":
		kind = models.KindTrack
	default:
		return fmt.Errorf("%w: unknown kind %q", shared.ErrInvalidInput, cmd.String("kind"))
	}

	stack, err := r.openStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	result, err := stack.engine.Query(ctx, models.Query{
		Kinds:  []models.ItemKind{kind},
		Search: term,
		UserID: cmd.String("user"),
		Limit:  int(cmd.Int("limit")),
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	switch cmd.String("format") {
	case "json":
		data, err := formatter.FormatJSON(result)
		if err != nil {
			return err
		}
		return r.writePlain("%s\n", data)
	case "csv":
		data, err := formatter.FormatCSV(result)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	default:
		return r.writePlain("%s", formatter.FormatText(result))
	}
}
