package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/leashnet/leash/agent"
	"github.com/leashnet/leash/internal/config"
	"github.com/leashnet/leash/terminal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "leash-agent",
		Usage: "runs commands on this host on behalf of a remote controller",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "The controller channel endpoint to dial.",
				Value: cfg.Endpoint,
			},
			&cli.StringFlag{
				Name:  "connect-timeout",
				Usage: "Duration to wait for the channel to establish.",
				Value: cfg.ConnectTimeout.String(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log every dispatched event to stderr.",
				Value: cfg.Debug,
			},
		},
		Action: func(ctx *cli.Context) error {
			endpoint := ctx.String("endpoint")
			connectTimeoutStr := ctx.String("connect-timeout")
			debug := ctx.Bool("debug")

			connectTimeout, err := time.ParseDuration(connectTimeoutStr)
			if err != nil {
				return fmt.Errorf("parsing connect timeout: %w", err)
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			logLevel := zapcore.ErrorLevel
			if debug {
				logLevel = zapcore.DebugLevel
			}

			// only animate on a real terminal; piped output gets plain text
			interactive := term.IsTerminal(int(os.Stdout.Fd()))
			var presenterOpts []terminal.Option
			if !interactive {
				presenterOpts = append(presenterOpts, terminal.WithPlainOutput())
			}
			presenter := terminal.New(os.Stdout, os.Stdin, presenterOpts...)

			a, err := agent.New(
				endpoint,
				agent.WithLogger(logger),
				agent.WithLogLevel(logLevel),
				agent.WithConnectTimeout(connectTimeout),
				agent.WithPresenter(presenter),
				agent.WithConnectIndicator(interactive),
			)
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}

			return a.Run(ctx.Context)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
