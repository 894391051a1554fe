package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/vector/pgvector"
)

func recallCommand() *cli.Command {
	var (
		opts  options
		query string
		k     int64
		kinds []string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Text to search memories for",
			Destination: &query,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Maximum number of memories to return",
			Value:       5,
			Destination: &k,
		},
		&cli.StringSliceFlag{
			Name:        "kind",
			Usage:       "Only return memories of this kind (repeatable)",
			Destination: &kinds,
		},
	}
	flags = append(flags, sessionFlags(&opts, true)...)
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "recall",
		Usage: "Search a conversation's memories by meaning",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.Memory.RetrieveRelevant(ctx, memory.Query{
				Text:           query,
				OwnerID:        opts.ownerID,
				ConversationID: opts.conversationID,
				K:              int(k),
				Kinds:          kinds,
			})
			if err != nil {
				return err
			}
			printRecords(c.Root().Writer, recs)
			return nil
		},
	}
}

func recentCommand() *cli.Command {
	var (
		opts  options
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories to return",
			Value:       10,
			Destination: &limit,
		},
	}
	flags = append(flags, sessionFlags(&opts, true)...)
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "recent",
		Usage: "List a conversation's newest memories",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.Memory.RetrieveRecent(ctx, opts.ownerID, opts.conversationID, int(limit))
			if err != nil {
				return err
			}
			printRecords(c.Root().Writer, recs)
			return nil
		},
	}
}

func summaryCommand() *cli.Command {
	var opts options

	flags := sessionFlags(&opts, true)
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "summary",
		Usage: "Summarize the story so far",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.Story.Summary(ctx, opts.session())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, summary)
			return nil
		},
	}
}

func forgetCommand() *cli.Command {
	var (
		opts     options
		allOwner bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "all",
			Usage:       "Delete every conversation of --owner instead of one conversation",
			Destination: &allOwner,
		},
	}
	flags = append(flags, sessionFlags(&opts, false)...)
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "forget",
		Usage: "Delete the memories of a conversation or an owner",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if !allOwner && opts.conversationID == "" {
				return goerr.New("either --conversation or --all is required")
			}

			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if allOwner {
				if _, err := app.Memory.DeleteOwner(ctx, opts.ownerID); err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "Deleted all memories of owner %s\n", opts.ownerID)
				return nil
			}

			if _, err := app.Memory.DeleteConversation(ctx, opts.conversationID); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Deleted memories of conversation %s\n", opts.conversationID)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	var (
		opts    options
		connStr string
		down    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "connection-string",
			Usage:       "PostgreSQL connection string; defaults to memory.pgvector.connection_string",
			Destination: &connStr,
		},
		&cli.BoolFlag{
			Name:        "down",
			Usage:       "Roll the schema back instead of applying it",
			Destination: &down,
		},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the pgvector schema migrations",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if connStr == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				connStr = cfg.Memory.PgVector.ConnectionString
			}
			if connStr == "" {
				return goerr.New("no pgvector connection string; set --connection-string or PGVECTOR_URL")
			}

			if down {
				if err := pgvector.MigrateDown(connStr); err != nil {
					return err
				}
				fmt.Fprintln(c.Root().Writer, "Rolled back pgvector schema")
				return nil
			}

			if err := pgvector.Migrate(connStr); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "Applied pgvector schema")
			return nil
		},
	}
}

// printRecords writes one line per record, or a notice for none.
func printRecords(w io.Writer, recs []memory.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return
	}
	for i, r := range recs {
		ts := time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%d. [%s] %s, %s: %s\n", i+1, ts, r.Role, r.Kind, r.Content)
	}
}
