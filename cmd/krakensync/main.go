package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"

	"krakensync/internal/keyring"
	"krakensync/internal/logger"
	"krakensync/pkg/core"
	"krakensync/pkg/pipeline"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	envFile    string
	resources  string
	since      string
	devMode    bool
	strict     bool
	list       bool
	jsonOut    bool
	pageSize   int
	parallel   int
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (*options, map[string]bool, error) {
	fs := flag.NewFlagSet("krakensync", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "krakensync.yaml", "path to YAML config file")
	fs.StringVar(&o.envFile, "env-file", ".env", "path to .env file with API credentials")
	fs.StringVar(&o.resources, "resources", "", "comma-separated resources to extract (default all)")
	fs.StringVar(&o.since, "since", "", "start timestamp, ISO-8601 or epoch milliseconds")
	fs.BoolVar(&o.devMode, "dev-mode", false, "reset stored state and rows of the selected resources first")
	fs.BoolVar(&o.strict, "strict", false, "stop at the first failed resource and exit non-zero")
	fs.BoolVar(&o.list, "list", false, "list available resources and exit")
	fs.BoolVar(&o.jsonOut, "json", false, "print the load summary as JSON")
	fs.IntVar(&o.pageSize, "page-size", core.DefaultPageSize, "records requested per history page")
	fs.IntVar(&o.parallel, "parallel", 1, "resources extracted concurrently")
	fs.StringVar(&o.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	o, set, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if o.list {
		listResources(stdout)
		return exitOK
	}

	config, err := buildConfig(o, set)
	if err != nil {
		fmt.Fprintf(stderr, "krakensync: %v\n", err)
		return exitConfig
	}

	log, closer, err := logger.New(config.Log)
	if err != nil {
		fmt.Fprintf(stderr, "krakensync: %v\n", err)
		return exitConfig
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := pipeline.FromConfig(ctx, config, log)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return exitConfig
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn().Err(err).Msg("close runtime")
		}
	}()

	info, runErr := rt.Run(ctx)
	if info != nil {
		if err := printSummary(stdout, info, o.jsonOut); err != nil {
			log.Error().Err(err).Msg("print summary")
		}
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("load failed")
		return exitFailed
	}
	return exitOK
}

// buildConfig layers the YAML file, the environment and the flags that were
// set explicitly, in that order.
func buildConfig(o *options, set map[string]bool) (*core.Config, error) {
	config, err := core.LoadConfig(o.configPath, !set["config"])
	if err != nil {
		return nil, err
	}

	creds, err := keyring.FromEnv(config.Credentials, o.envFile)
	if err != nil {
		return nil, err
	}
	config.Credentials = creds

	if set["resources"] {
		config.Resources = splitList(o.resources)
	}
	if set["since"] {
		config.StartTimestamp = o.since
	}
	if set["dev-mode"] {
		config.DevMode = o.devMode
	}
	if set["strict"] {
		config.Strict = o.strict
	}
	if set["page-size"] {
		config.PageSize = o.pageSize
	}
	if set["parallel"] {
		config.Parallelism = o.parallel
	}
	if set["log-level"] {
		config.Log.Level = o.logLevel
	}
	return config, config.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func listResources(w io.Writer) {
	for _, r := range core.AllResources {
		auth := "public"
		switch r {
		case core.ResourceAccountLog, core.ResourcePositionHistory, core.ResourceOpenPositions:
			auth = "private"
		case core.ResourceExecutions:
			auth = "private when credentials are set"
		}
		fmt.Fprintf(w, "%-18s %-8s %s\n", r, r.Disposition(), auth)
	}
}

func printSummary(w io.Writer, info *pipeline.LoadInfo, asJSON bool) error {
	if asJSON {
		data, err := sonic.ConfigStd.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "load %s finished in %.2fs\n", info.LoadID, info.Duration)
	for _, r := range info.Resources {
		status := "ok"
		switch {
		case r.Skipped:
			status = "skipped"
		case r.Error != "":
			status = "failed: " + r.Error
		}
		fmt.Fprintf(w, "  %-18s %8d rows  %s\n", r.Resource, r.Rows, status)
	}
	return nil
}
