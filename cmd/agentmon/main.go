package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdout)
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		slog.Error("command failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, stdout io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env. Err: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return err
	}
	rest, err := c.ParseFlags(args)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if len(rest) == 0 {
		return fmt.Errorf("%w: command is required", errUsage)
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}

	app, err := NewApp(ctx, c, getenv, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.logger.Warn("Failed to close storage", "error", err)
		}
	}()

	return cmd(ctx, app, rest[1:])
}
