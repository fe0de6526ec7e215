// Package cli implements the inspectra command line client. Each command is
// one user-initiated action against the scan API; results are persisted in
// the local state store so later commands can default to them.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/ahrav/inspectra/internal/client"
	"github.com/ahrav/inspectra/internal/config"
	"github.com/ahrav/inspectra/internal/infra/storage/backend"
	"github.com/ahrav/inspectra/internal/state"
	"github.com/ahrav/inspectra/pkg/common"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// Exit codes returned by Main.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitCanceled = 130
)

// storeRetry keeps an interactive command from hanging on a store that is down.
var storeRetry = common.RetryConfig{InitialInterval: 250 * time.Millisecond, MaxElapsedTime: 3 * time.Second}

// CLI is the command grammar.
type CLI struct {
	Config  string `help:"Path to the configuration file." type:"path" env:"INSPECTRA_CONFIG"`
	API     string `name:"api" help:"API base URL. Overrides the configuration."`
	Output  string `short:"o" enum:"text,json,yaml" default:"text" help:"Output format (${enum})."`
	Quiet   bool   `short:"q" help:"Do not render progress."`
	Verbose bool   `short:"v" help:"Log requests to stderr."`

	Scan     ScanCmd     `cmd:"" help:"Run a full scan of a target."`
	Monitor  MonitorCmd  `cmd:"" help:"Monitor the network traffic of a target."`
	Classify ClassifyCmd `cmd:"" help:"Classify pages by type."`
	Override OverrideCmd `cmd:"" help:"Override the page type of a classified page."`
	Forget   ForgetCmd   `cmd:"" help:"Delete the stored classification of a page."`
	Hygiene  HygieneCmd  `cmd:"" help:"Show the hygiene score of a target."`
	Severity SeverityCmd `cmd:"" help:"Show the severity matrix of a target."`
	History  HistoryCmd  `cmd:"" help:"List previous scans."`
	Show     ShowCmd     `cmd:"" help:"Show a stored scan result."`
	Target   TargetCmd   `cmd:"" help:"Show or set the default target URL."`
	Baseline BaselineCmd `cmd:"" help:"Show or set the baseline URL."`
}

// Env carries what commands need. Main builds it from the configuration;
// tests build it directly.
type Env struct {
	Client *client.Client
	Store  *state.Store
	// HTTP fetches pages for link discovery.
	HTTP   *http.Client
	Out    io.Writer
	Err    io.Writer
	Format Format
	Quiet  bool
}

func newParser(c *CLI, stdout, stderr io.Writer, exit func(int)) (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("inspectra"),
		kong.Description("Command line client for the Inspectra scan API."),
		kong.Writers(stdout, stderr),
		kong.Exit(exit),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
}

// Main parses args, builds the environment from the configuration and runs
// the selected command. It returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		c      CLI
		exited *int
	)
	parser, err := newParser(&c, stdout, stderr, func(code int) { exited = &code })
	if err != nil {
		fmt.Fprintf(stderr, "inspectra: %v\n", err)
		return ExitFailure
	}

	kctx, err := parser.Parse(args)
	if exited != nil {
		return *exited
	}
	if err != nil {
		parser.Errorf("%s", err)
		return ExitUsage
	}

	env, closeEnv, err := buildEnv(ctx, &c, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "inspectra: %v\n", err)
		return ExitFailure
	}
	defer closeEnv()

	return exitCode(ctx, stderr, run(ctx, kctx, env))
}

// Run parses args and runs the command against env. Global flags that
// configure the environment are ignored except for the output format and
// quiet mode.
func Run(ctx context.Context, args []string, env *Env) error {
	var c CLI
	parser, err := newParser(&c, env.Out, env.Err, func(int) {})
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	local := *env
	local.Format = Format(c.Output)
	local.Quiet = local.Quiet || c.Quiet
	return run(ctx, kctx, &local)
}

func run(ctx context.Context, kctx *kong.Context, env *Env) error {
	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(env)
}

func buildEnv(ctx context.Context, c *CLI, stdout, stderr io.Writer) (*Env, func(), error) {
	level := logger.LevelWarn
	if c.Verbose {
		level = logger.LevelDebug
	}
	log := logger.New(stderr, level, "inspectra", nil)

	cfg, err := config.NewViperLoader(c.Config).Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if c.API != "" {
		cfg.API.URL = c.API
	}

	tracer := otel.Tracer("inspectra/cli")
	kv, err := backend.Open(ctx, cfg.Store, storeRetry, log, tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	}
	store, err := state.Open(ctx, kv, state.WithHistoryLimit(cfg.Store.HistoryLimit), state.WithLogger(log))
	if err != nil {
		kv.Close()
		return nil, nil, fmt.Errorf("loading state: %w", err)
	}

	api, err := client.NewFromConfig(cfg.API, log)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}

	env := &Env{
		Client: api,
		Store:  store,
		HTTP:   &http.Client{Timeout: cfg.API.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Out:    stdout,
		Err:    stderr,
		Format: Format(c.Output),
		Quiet:  c.Quiet,
	}
	return env, func() { _ = kv.Close() }, nil
}

// exitCode reports err on stderr and maps it to an exit code.
func exitCode(ctx context.Context, stderr io.Writer, err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		fmt.Fprintln(stderr, "inspectra: canceled")
		return ExitCanceled
	}

	var (
		be *client.BackendError
		se *client.StreamError
	)
	switch {
	case errors.As(err, &be):
		fmt.Fprintf(stderr, "inspectra: scan failed: %s\n", be.Message)
	case errors.As(err, &se):
		fmt.Fprintf(stderr, "inspectra: stream failed: %s\n", se.Message)
	default:
		fmt.Fprintf(stderr, "inspectra: %v\n", err)
	}
	return ExitFailure
}
