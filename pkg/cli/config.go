package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/lexlapax/questweaver/pkg/config"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/questweaver"
	"github.com/lexlapax/questweaver/pkg/story"
)

// options holds flag values shared by the commands.
type options struct {
	configPath string
	logLevel   string

	ownerID        string
	conversationID string
}

// globalFlags returns the configuration flags every command accepts.
func globalFlags(opts *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the YAML configuration file",
			Sources:     cli.EnvVars("QUESTWEAVER_CONFIG"),
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Override the configured log level (debug, info, warn, error)",
			Destination: &opts.logLevel,
		},
	}
}

// sessionFlags returns the owner and conversation flags.
func sessionFlags(opts *options, conversationRequired bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner (player) ID",
			Value:       "player",
			Sources:     cli.EnvVars("QUESTWEAVER_OWNER"),
			Destination: &opts.ownerID,
		},
		&cli.StringFlag{
			Name:        "conversation",
			Aliases:     []string{"s"},
			Usage:       "Conversation (story session) ID",
			Destination: &opts.conversationID,
			Required:    conversationRequired,
		},
	}
}

func (opts *options) session() story.Session {
	return story.Session{OwnerID: opts.ownerID, ConversationID: opts.conversationID}
}

// loadConfig reads the config file, or the defaults with environment
// overrides when no file is given, and installs the logger on stderr.
func (opts *options) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.FromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = log.Level(opts.logLevel)
	}
	slog.SetDefault(log.SetupWithOutput(cfg.Logging, os.Stderr))
	return cfg, nil
}

// newApp loads the configuration and builds every component.
func (opts *options) newApp(ctx context.Context) (*questweaver.App, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	app, err := questweaver.New(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start questweaver")
	}
	return app, nil
}
