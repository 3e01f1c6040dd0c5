package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	flags "github.com/jessevdk/go-flags"
)

// Stand-in for a database server: prints READY, optionally serves a
// minimal HTTP API and reacts to termination signals.
type flagOptions struct {
	RunDuration   int      `long:"run-duration" description:"Duration in seconds to run before exiting on its own"`
	Port          int      `long:"port" description:"port for the HTTP API; 0 disables it"`
	IgnoreSigterm bool     `long:"ignore-sigterm" description:"keep running after SIGTERM (requires a forced kill)"`
	ExitCode      int      `long:"exit-code" description:"exit code to use when the run duration elapses"`
	Databases     []string `long:"db" description:"database names reported by /_all_dbs"`
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

	fmt.Printf("Running Dummyserver, opts: %+v...\n", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	}

	var server *http.Server
	if opts.Port > 0 {
		server = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", opts.Port),
			Handler: newRouter(opts.Databases),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Printf("Dummyserver HTTP API failed: %v\n", err)
			}
		}()
		fmt.Printf("Dummyserver HTTP API on %s\n", server.Addr)
	}

	fmt.Printf("READY\n")

	exitCode := 0
loop:
	for {
		select {
		case receivedSignal := <-sig:
			fmt.Printf("Dummyserver received signal: %v\n", receivedSignal)
			if receivedSignal == syscall.SIGHUP {
				fmt.Printf("Dummyserver flushing\n")
				continue
			}
			if opts.IgnoreSigterm && receivedSignal == syscall.SIGTERM {
				fmt.Printf("Dummyserver ignoring signal\n")
				continue
			}
			break loop
		case <-ctx.Done():
			fmt.Printf("Dummyserver timed out\n")
			exitCode = opts.ExitCode
			break loop
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		server.Shutdown(shutdownCtx)
		cancel()
	}

	fmt.Printf("Dummyserver stopped\n")
	os.Exit(exitCode)
}

func newRouter(databases []string) http.Handler {
	if databases == nil {
		databases = []string{}
	}

	router := chi.NewRouter()
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"couchdb": "Welcome", "version": "dummy"})
	})
	router.Get("/_all_dbs", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, databases)
	})
	router.Post("/{db}/_ensure_full_commit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Printf("Dummyserver committed %s\n", chi.URLParam(r, "db"))
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]interface{}{"ok": true, "instance_start_time": "0"})
	})
	return router
}
