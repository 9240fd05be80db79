// Command snowctl runs the local rate-limit proxy and calls API endpoints
// through the same limiter.
//
// Usage:
//
//	snowctl serve --config config.yaml
//	snowctl call get_channel -p channel_id=266277541646434305
//	snowctl route /channels/266277541646434305/messages/266277541646434306 --method DELETE
//	snowctl endpoints
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Niputi/snowtransfer/internal/config"
	"github.com/Niputi/snowtransfer/internal/endpoints"
	"github.com/Niputi/snowtransfer/internal/obs"
	"github.com/Niputi/snowtransfer/internal/proxy"
	"github.com/Niputi/snowtransfer/internal/ratelimit/memory"
	"github.com/Niputi/snowtransfer/internal/rest"
	"github.com/Niputi/snowtransfer/internal/routing"
)

type CLI struct {
	Version   VersionCmd   `cmd:"" help:"Show version information."`
	Serve     ServeCmd     `cmd:"" help:"Run the local rate-limit proxy."`
	Call      CallCmd      `cmd:"" help:"Call a catalog endpoint."`
	Route     RouteCmd     `cmd:"" help:"Print the rate-limit bucket of a path."`
	Endpoints EndpointsCmd `cmd:"" help:"List the endpoint catalog."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error). Overrides the config file."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("snowctl", rest.Version)
	return nil
}

type RouteCmd struct {
	Path   string `arg:"" help:"API path, e.g. /channels/123/messages."`
	Method string `short:"m" help:"HTTP method." default:"GET"`
}

func (c *RouteCmd) Run() error {
	fmt.Println(routing.Classify(c.Path, c.Method))
	return nil
}

type EndpointsCmd struct{}

func (c *EndpointsCmd) Run() error {
	return writeCatalog(os.Stdout)
}

func writeCatalog(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMETHOD\tPATH\tBODY\tNOTES")
	for _, ep := range endpoints.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ep.Name, ep.Method, ep.Path, ep.Kind, ep.Description)
	}
	return tw.Flush()
}

// env loads the config and the pieces every command shares.
type env struct {
	cfg     *config.Root
	logger  zerolog.Logger
	limiter *memory.Limiter
}

func load(cli *CLI, out io.Writer) (*env, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Observability.LogLevel = cli.LogLevel
	}

	logger := obs.NewLogger(out, cfg.Observability.LogLevel)
	lim := memory.New(
		memory.WithLogger(logger),
		memory.WithDefaults(cfg.RateLimit.Default.Limit, cfg.RateLimit.Default.Remaining, cfg.RateLimit.DefaultWindow()),
	)
	return &env{cfg: cfg, logger: logger, limiter: lim}, nil
}

func (e *env) executor(reg prometheus.Registerer) (*rest.Executor, *obs.Metrics, error) {
	opts := []rest.Option{
		rest.WithHTTPClient(proxy.NewHTTPClient(e.cfg.API.Timeout())),
		rest.WithBaseURL(e.cfg.API.BaseURL),
		rest.WithUserAgent(e.cfg.API.UserAgent),
		rest.WithLogger(e.logger),
		rest.WithReporter(obs.LogReporter{Logger: e.logger}),
		rest.WithMaxAttempts(e.cfg.RateLimit.MaxAttempts),
		rest.WithMaxRateLimitRetries(e.cfg.RateLimit.MaxRateLimitRetries),
		rest.WithGlobalRPS(e.cfg.RateLimit.GlobalRPS),
		rest.WithReactionMinWindow(e.cfg.RateLimit.ReactionMinWindow()),
	}

	var m *obs.Metrics
	if reg != nil {
		m = obs.NewMetrics(reg)
		opts = append(opts, rest.WithRecorder(m))
	}

	exec, err := rest.New(e.limiter, e.cfg.API.Token, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set api.token or SNOWTRANSFER_API_TOKEN)", err)
	}
	return exec, m, nil
}

// parseParams accepts key=value pairs.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("param %q: want key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("snowctl"),
		kong.Description("Rate-limited access to the Discord REST API."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
