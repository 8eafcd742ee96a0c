package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/linkup/cmd"
	"grimm.is/linkup/internal/brand"
)

var printer = cmd.Printer

func main() {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", cmd.DefaultConfigPath(), "Configuration file")
		runFlags.StringVar(configFile, "c", cmd.DefaultConfigPath(), "Configuration file (short)")
		runFlags.Parse(args)

		settings, err := cmd.LoadSettings(*configFile)
		if err != nil {
			fatal(err)
		}
		if _, err := cmd.SetupLogging(settings); err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := cmd.RunBringup(ctx, settings); err != nil {
			stop()
			fatal(err)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Print the resolved settings")
		checkFlags.BoolVar(verbose, "v", false, "Print the resolved settings (short)")
		checkFlags.Parse(args)

		configFile := cmd.DefaultConfigPath()
		if checkFlags.NArg() > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s version %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatal(err error) {
	printer.Fprintf(os.Stderr, "%s\n", cmd.FatalMessage(err))
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s [command] [options]

Commands:
  run       Bring up the interface and supervise it (default)
            Options: --config (-c) <file>
  check     Validate a configuration file
            Options: --verbose (-v) [file]
  version   Show version information
  help      Show this help

Default configuration: %s
`, brand.BinaryName, brand.Description, brand.BinaryName, cmd.DefaultConfigPath())
}
