package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"jordanella.com/autoclick-vision/internal/config"
)

const usage = `Usage: autoclick [-config settings.ini] <command> [flags]

Commands:
  run       run a task file
  history   list recorded runs, or show one with -run
  monitors  list capture monitors
  parse     compile a task file or a sequence string and print its steps
`

func main() {
	configPath := flag.String("config", "settings.ini", "Path to settings file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "run":
		err = runCommand(ctx, settings, args, os.Stdout)
	case "history":
		err = historyCommand(settings, args, os.Stdout)
	case "monitors":
		err = monitorsCommand(settings, os.Stdout)
	case "parse":
		err = parseCommand(args, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		stop()
		log.Fatalf("%s: %v", cmd, err)
	}
}

// loadSettings reads path, falling back to defaults when it does not exist
func loadSettings(path string) (*config.Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("Settings file %s not found, using defaults", path)
		return config.NewDefaultSettings(), nil
	}

	settings, err := config.LoadFromINI(path)
	if err != nil {
		return nil, err
	}
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func runCommand(ctx context.Context, settings *config.Settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "Restart the task when its file changes")
	monitorIndex := fs.Int("monitor", -1, "Override the capture monitor (0 = all displays)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one task file, got %d arguments", fs.NArg())
	}
	if *monitorIndex >= 0 {
		settings.Capture.MonitorIndex = *monitorIndex
	}

	h, err := newHost(settings, out)
	if err != nil {
		return err
	}
	defer h.Close()

	return h.Run(ctx, fs.Arg(0), *watch)
}
