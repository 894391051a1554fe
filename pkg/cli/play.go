package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/urfave/cli/v3"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/reasoning"
	"github.com/lexlapax/questweaver/pkg/story"
)

func playCommand() *cli.Command {
	var (
		opts  options
		setup story.Setup
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "genre",
			Aliases:     []string{"g"},
			Usage:       "Story genre",
			Value:       "fantasy",
			Destination: &setup.Genre,
		},
		&cli.StringFlag{
			Name:        "character",
			Usage:       "The character you play",
			Value:       "a wandering adventurer",
			Destination: &setup.Character,
		},
		&cli.StringFlag{
			Name:        "world",
			Usage:       "Extra world details for the opening",
			Destination: &setup.WorldAdditions,
		},
		&cli.StringFlag{
			Name:        "actions",
			Usage:       "Kinds of actions the opening should suggest",
			Destination: &setup.Actions,
		},
	}
	flags = append(flags, sessionFlags(&opts, false)...)
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "play",
		Usage: "Start a new story, or resume one with --conversation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if opts.conversationID == "" {
				opts.conversationID = uuid.NewString()
			}
			sess := opts.session()
			out := c.Root().Writer
			r := newREPL(app.Story, app.Memory, sess, out)

			existing, err := app.Memory.RetrieveRecent(ctx, sess.OwnerID, sess.ConversationID, 1)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n=== QuestWeaver ===\nIndex: %s | Owner: %s | Conversation: %s\n",
				app.Config.Memory.Index, sess.OwnerID, sess.ConversationID)
			fmt.Fprintln(out, "Type !help for available commands.")

			if len(existing) > 0 {
				fmt.Fprintln(out, "Resuming your story. Last remembered:")
				printRecords(out, existing)
			} else {
				opening, err := app.Story.StartStory(ctx, sess, setup)
				if err != nil {
					return err
				}
				r.remember(reasoning.RoleAssistant, opening)
				fmt.Fprintf(out, "\n%s\n\n", opening)
			}

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			line.SetCompleter(completer)

			if f, err := os.Open(historyFile); err == nil {
				_, _ = line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				f, err := os.Create(historyFile)
				if err != nil {
					log.Warn("Failed to save REPL history", log.ErrAttr(err))
					return
				}
				_, _ = line.WriteHistory(f)
				f.Close()
			}()

			return r.run(ctx, line)
		},
	}
}
