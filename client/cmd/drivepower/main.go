package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/app"
	"drivepower/client/internal/config"
	"drivepower/libs/logging"
)

const usage = `usage: drivepower <command> [flags]

commands:
  login             sign in as a customer
  login-manager     sign in as a station manager
  register          create a customer account
  register-manager  create a manager account
  logout            forget the stored session
  whoami            show the current session
  stations          list stations (-manager ID, -id ID)
  bookings          list bookings (-station ID)
  book              create a booking
  cancel ID         cancel a booking
  rooms             list support chat rooms
  new-room SUBJECT  open a support chat room
  messages ROOM     show a room's messages
  send ROOM TEXT    send a chat message
  tail ROOM         follow a room over the realtime hub
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer application.Close()
	application.Restore(ctx)

	cli := &cli{app: application, logger: logger, out: os.Stdout, in: os.Stdin}
	if err := cli.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", api.Message(err, err.Error()))
		os.Exit(1)
	}
}
