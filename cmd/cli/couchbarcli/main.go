package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	"github.com/core-tools/hsu-couchbar/pkg/config"
	"github.com/core-tools/hsu-couchbar/pkg/control"
	"github.com/core-tools/hsu-couchbar/pkg/domain"
	"github.com/core-tools/hsu-couchbar/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Address       string `long:"address" description:"control API address" default:"127.0.0.1:5985"`
	Follow        bool   `long:"follow" description:"keep streaming output until interrupted"`
	RetryAttempts int    `long:"retry" description:"attempts to reach the control API" default:"5"`
	Args          struct {
		Command string `positional-arg-name:"command" description:"status | start | stop | output | browse-url"`
	} `positional-args:"yes" required:"yes"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
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

	logger.Debugf("opts: %+v", opts)

	if err := config.ValidateNetworkAddress(opts.Address); err != nil {
		fmt.Printf("Invalid address: %v\n", err)
		os.Exit(1)
	}

	clientLogger := logging.NewLogger(
		logPrefix("hsu-couchbar"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	gateway, err := control.NewHTTPClientGateway("http://"+opts.Address, &http.Client{}, clientLogger)
	if err != nil {
		logger.Errorf("Failed to create client gateway: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := waitForControlAPI(ctx, gateway, opts.RetryAttempts, time.Second); err != nil {
		logger.Errorf("Control API is not reachable at %s: %v", opts.Address, err)
		os.Exit(1)
	}

	if err := runCommand(ctx, gateway, opts); err != nil {
		logger.Errorf("Command %q failed: %v", opts.Args.Command, err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, gateway *control.HTTPClientGateway, opts flagOptions) error {
	switch opts.Args.Command {
	case "status":
		status, err := gateway.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(status)

	case "start":
		handle, err := gateway.Start(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Started %s, pid: %d, run: %s\n", handle.ID, handle.PID, handle.RunID)

	case "stop":
		if err := gateway.Stop(ctx); err != nil {
			return err
		}
		fmt.Println("Stopped")

	case "output":
		if opts.Follow {
			return gateway.FollowOutput(ctx, os.Stdout)
		}
		output, err := gateway.Output(ctx)
		if err != nil {
			return err
		}
		os.Stdout.Write(output)

	case "browse-url":
		adminURL, err := gateway.AdminURL(ctx)
		if err != nil {
			return err
		}
		fmt.Println(adminURL)

	default:
		return fmt.Errorf("unknown command %q", opts.Args.Command)
	}
	return nil
}

func printStatus(status domain.Status) {
	fmt.Printf("id:        %s\n", status.ID)
	fmt.Printf("state:     %s\n", status.State)
	fmt.Printf("runs:      %d\n", status.Runs)
	fmt.Printf("admin:     %s\n", status.AdminURL)
	if status.Handle != nil {
		fmt.Printf("pid:       %d\n", status.Handle.PID)
		fmt.Printf("uptime:    %v\n", status.Uptime.Round(time.Second))
	}
	fmt.Printf("output:    %d bytes (%d dropped)\n", status.OutputBytes, status.OutputDropped)
	if status.LastExit != nil {
		fmt.Printf("last exit: %s\n", status.LastExit.String())
	}
}

// waitForControlAPI pings the status endpoint until it answers
func waitForControlAPI(ctx context.Context, gateway *control.HTTPClientGateway, attempts int, interval time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = gateway.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return err
}
