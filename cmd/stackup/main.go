package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("stackup %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		return ExitUsageError
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Setup logger
	logger := SetupLogger(cfg)

	return dispatch(context.Background(), cfg, logger, args)
}
