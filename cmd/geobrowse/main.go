package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/internal/server"
)

// Options defines all CLI flags and env vars for the geobrowse server.
// Flags: --host, --port, --backend, --database-url, --data-dir, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_BACKEND, SERVICE_DATABASE_URL, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	Backend      string `doc:"Database backend: duckdb or postgres" default:"duckdb"`
	DatabaseURL  string `doc:"PostgreSQL connection string (postgres backend)"`
	DataDir      string `doc:"Directory for DuckDB files" default:".data"`
	WebDir       string `doc:"Serve templates and static files from this web/ directory instead of the embedded copy"`
	QueryURL     string `doc:"Base URL of a remote geobrowse API used by viewer sessions; the SQL dialect follows its backend"`
	InitSchema   bool   `doc:"Create the fields and observations tables if missing"`
	DebounceMS   int    `doc:"Quiet period after a viewport change before reloading, in milliseconds" default:"350"`
	FeatureLimit int    `doc:"Maximum features per viewport query" default:"600"`
	QueryTimeout int    `doc:"Timeout of a single SQL query, in seconds" default:"30"`
	MaxViewers   int    `doc:"Maximum live viewer sessions" default:"256"`
	LogLevel     string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogDev       bool   `doc:"Human readable console logs"`
}

func newLogger(opts *Options) *zap.SugaredLogger {
	log, err := logger.New(logger.Config{Level: opts.LogLevel, Development: opts.LogDev})
	if err != nil {
		return logger.Default()
	}
	return log
}

func newServer(opts *Options, log *zap.SugaredLogger) (*server.Server, error) {
	return server.New(server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		Backend:      opts.Backend,
		DatabaseURL:  opts.DatabaseURL,
		DataDir:      opts.DataDir,
		WebDir:       opts.WebDir,
		QueryURL:     opts.QueryURL,
		InitSchema:   opts.InitSchema,
		Debounce:     time.Duration(opts.DebounceMS) * time.Millisecond,
		FeatureLimit: opts.FeatureLimit,
		QueryTimeout: time.Duration(opts.QueryTimeout) * time.Second,
		MaxViewers:   opts.MaxViewers,
		Logger:       log,
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// printEncoded writes v as indented JSON, or YAML when the --yaml flag is set.
func printEncoded(cmd *cobra.Command, v any) {
	useYAML, _ := cmd.Flags().GetBool("yaml")

	var output []byte
	var err error
	if useYAML {
		output, err = yaml.Marshal(v)
	} else {
		output, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		fatal("Error marshaling output: %v", err)
	}
	fmt.Println(string(output))
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log := newLogger(opts)
		srv, err := newServer(opts, log)
		if err != nil {
			fatal("Error creating server: %v", err)
		}

		addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("geobrowse server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Backend: %s\n", opts.Backend)
			fmt.Println()
			fmt.Printf("  Viewer:  %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			log.Infow("listening", "addr", addr, "backend", opts.Backend)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalw("server error", "error", err)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				log.Warnw("shutdown", "error", err)
			}
			if err := srv.Close(); err != nil {
				log.Warnw("close", "error", err)
			}
			_ = log.Sync()
		})
	})

	cli.Root().Use = "geobrowse"
	cli.Root().Short = "Browse the spatial tables of a PostGIS or DuckDB database on a live map"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts, zap.NewNop().Sugar())
			if err != nil {
				fatal("Error creating server: %v", err)
			}
			defer srv.Close()
			printEncoded(cmd, srv.OpenAPI())
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// catalog subcommand: print the spatial tables the viewer would offer
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the catalog of spatial tables (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts, newLogger(opts))
			if err != nil {
				fatal("Error creating server: %v", err)
			}
			defer srv.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(opts.QueryTimeout)*time.Second)
			defer cancel()
			cat, err := srv.Catalog(ctx)
			if err != nil {
				fatal("Error loading catalog: %v", err)
			}
			printEncoded(cmd, cat)
		}),
	}
	catalogCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(catalogCmd)

	cli.Run()
}
