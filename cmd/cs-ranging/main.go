// Command cs-ranging pairs Channel Sounding subevents from an initiator and a
// reflector, computes ranging outputs for every matched procedure counter and
// serves them in a browser viewer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/cs-ranging/internal/db"
	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/banshee-data/cs-ranging/internal/serialmux"
	"github.com/banshee-data/cs-ranging/internal/timeutil"
	"github.com/banshee-data/cs-ranging/internal/version"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cs-ranging: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "migrate" {
		return runMigrate(args[1:], stdout, stderr)
	}

	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "cs-ranging %s\n", version.String())
		return nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	a := &app{
		opts:   opts,
		cfg:    cfg,
		fs:     fsutil.OSFileSystem{},
		clock:  timeutil.RealClock{},
		opener: serialmux.OpenPort,
		stdout: stdout,
	}
	_, err = a.run(ctx)
	return err
}

func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("cs-ranging migrate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "cs-ranging.db", "SQLite database to migrate")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: cs-ranging migrate [--db PATH] <action>\n\n")
		fs.PrintDefaults()
		db.PrintMigrateHelp(stderr)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
