package cli

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// Error carries the process exit code for a failed command.
type Error struct {
	Code    int
	Message string
}

// Run executes the questweaver command tree. A .env file in the working
// directory is loaded first when present.
func Run(ctx context.Context, argv []string) *Error {
	_ = godotenv.Load()

	if err := newRootCommand().Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}
	return nil
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "questweaver",
		Usage: "Interactive fiction with long-term semantic memory",
		Commands: []*cli.Command{
			playCommand(),
			recallCommand(),
			recentCommand(),
			summaryCommand(),
			forgetCommand(),
			migrateCommand(),
		},
	}
}
