package main

import (
	"fmt"
	"os"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/runner"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config       string `long:"config" description:"configuration file path"`
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to run the supervisor (debug feature)"`
	Autostart    bool   `long:"autostart" description:"launch the server without waiting for a start request"`
	ValidateOnly bool   `long:"validate" description:"validate the configuration file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger := sprintfLogging.NewStdSprintfLogger()

	logger.Infof("opts: %+v", opts)

	if opts.Config == "" {
		fmt.Println("Configuration file is required")
		os.Exit(1)
	}

	bootstrapLogger := logging.NewLogger(
		logPrefix("hsu-couchbar"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	if opts.ValidateOnly {
		cfg, err := runner.LoadAndValidateConfig(opts.Config)
		if err != nil {
			logger.Errorf("Configuration is invalid: %v", err)
			os.Exit(1)
		}
		logger.Infof("Configuration is valid: %+v", runner.GetConfigSummary(cfg))
		return
	}

	logger.Infof("Starting...")

	err = runner.Run(runner.RunOptions{
		ConfigFile:  opts.Config,
		RunDuration: opts.RunDuration,
		Autostart:   opts.Autostart,
	}, bootstrapLogger)
	if err != nil {
		logger.Errorf("Supervisor failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("Done")
}
