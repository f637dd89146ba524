package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/skrob/internal/config"
	"github.com/nao1215/skrob/internal/database"
	"github.com/nao1215/skrob/internal/fetch"
	"github.com/nao1215/skrob/internal/interp"
	"github.com/nao1215/skrob/internal/log"
	"github.com/nao1215/skrob/internal/script"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return newRunCmd(openSideChannels)
}

func newRunCmd(openChannels sideChannelOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run CODE [URL...]",
		Short: "Run a script against URLs or stdin",
		Long: `Run executes a skrob script.

With URL arguments every URL is fetched first and the script runs on the
fetched documents. Without URL arguments the script runs on the whole of
stdin, which has no locator, so relative links cannot be followed from it.

Collected texts go to stdout, one per line. Every fetched URL is written to
stderr and, when the caller opens file descriptor 3 for writing, to it as
well. When descriptor 4 is open for writing, the texts the script ends with
are written to it.

Examples:
  # Titles of every page in a thread
  skrob run '{ .title::text; a[rel=next]::attr(href) -> } !;' https://example.com/thread

  # JSON responses are queried as XML; "|" delimits XPath here
  skrob run -d '|' 'items item |concat("/api/item/", ., ".json")| -> name::text;' https://example.com/api/items.json

  # Scrape a saved page from stdin
  skrob run 'h1::text;' < page.html

  # Keep the crawl frontier in files
  skrob run --follow-log follows.txt --result-file result.txt 'a::attr(href) ->' https://example.com/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunCmd(cmd, args, openChannels)
		},
	}

	// Connection flags
	cmd.Flags().IntP("max-connections-per-host", "n", config.DefaultMaxConnectionsPerHost,
		"Maximum number of simultaneous connections to the same host")
	cmd.Flags().IntP("max-connections", "N", config.DefaultMaxConnections,
		"Maximum number of simultaneous connections")
	cmd.Flags().StringP("connect-timeout", "t", "0",
		"Time allowed to establish a connection, in seconds or as a duration (0 disables)")
	cmd.Flags().StringP("total-timeout", "T", "0",
		"Time allowed for each transfer, in seconds or as a duration (0 disables)")
	cmd.Flags().Float64P("rate", "r", 0,
		"Maximum requests per second across the run (0 means no limit)")
	cmd.Flags().StringP("proxy", "x", "",
		"SOCKS5 proxy address (e.g., 127.0.0.1:9050)")

	// Request flags
	cmd.Flags().StringArrayP("header", "H", nil,
		`Header sent with every request, as "Name: value" (repeatable)`)
	cmd.Flags().StringP("cookie-file", "b", "",
		"Netscape cookie file read before the run and written after it")
	cmd.Flags().StringP("user-agent", "A", "",
		"User-Agent header (default \"skrob/<version>\")")

	// Script flags
	cmd.Flags().StringP("delimiter", "d", string(config.DefaultDelimiter),
		"Character that wraps XPath queries")

	// Output flags
	cmd.Flags().String("follow-log", "",
		"Also write every fetched URL to this file (instead of file descriptor 3)")
	cmd.Flags().String("result-file", "",
		"Write the final texts to this file (instead of file descriptor 4)")
	cmd.Flags().BoolP("archive", "a", false,
		"Record the run and its fetches in the archive database")
	cmd.Flags().String("archive-dir", config.XDGDataDir(),
		"Directory holding the archive database")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .skrob in current or home directory)")

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, args []string, openChannels sideChannelOpener) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.NewLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.Verbose)
	slog.SetDefault(logger)

	prog, err := script.Parse(args[0], script.WithDelimiter(cfg.Delimiter))
	if err != nil {
		return fmt.Errorf("invalid script: %w", err)
	}

	followPath, err := cmd.Flags().GetString("follow-log")
	if err != nil {
		return err
	}
	resultPath, err := cmd.Flags().GetString("result-file")
	if err != nil {
		return err
	}
	channels, err := openChannels(followPath, resultPath)
	if err != nil {
		return err
	}
	defer channels.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// A closed stdout must surface as a write error, not kill the process.
	pipeCh := make(chan os.Signal, 1)
	signal.Notify(pipeCh, syscall.SIGPIPE)
	defer signal.Stop(pipeCh)

	return runScript(ctx, cfg, prog, runInput{
		code:    args[0],
		urls:    args[1:],
		stdin:   cmd.InOrStdin(),
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
		follow:  channels.follow,
		results: channels.result,
	}, logger)
}

// runInput holds the script source, its seeds and the streams of a run.
type runInput struct {
	code    string
	urls    []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	follow  io.Writer
	results io.Writer
}

// runScript executes prog and writes the final contexts to the result
// stream.
func runScript(ctx context.Context, cfg *config.Config, prog script.Command, in runInput, logger *slog.Logger) error {
	// Read stdin before anything else so a slow producer does not hold
	// open connections.
	var text string
	if len(in.urls) == 0 {
		data, err := io.ReadAll(in.stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	jar := fetch.NewJar()
	if cfg.CookieFile != "" {
		if err := jar.LoadCookieFile(cfg.CookieFile); err != nil {
			return err
		}
		logger.Debug("loaded cookies", "file", cfg.CookieFile, "count", jar.Len())
	}

	opts := []fetch.Option{
		fetch.WithMaxConnections(cfg.MaxConnections),
		fetch.WithMaxConnectionsPerHost(cfg.MaxConnectionsPerHost),
		fetch.WithConnectTimeout(cfg.ConnectTimeout),
		fetch.WithTotalTimeout(cfg.TotalTimeout),
		fetch.WithHeaders(cfg.Headers),
		fetch.WithSites(fetchSites(cfg.Sites)),
		fetch.WithCookieJar(jar),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithRateLimit(cfg.RequestsPerSecond),
		fetch.WithProxy(cfg.Proxy),
		fetch.WithLogger(logger),
	}

	var archived *database.Run
	if cfg.Archive {
		archive, err := database.Open(cfg.ArchiveDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer archive.Close()

		archived, err = archive.BeginRun(ctx, in.code, in.urls)
		if err != nil {
			return err
		}
		opts = append(opts, fetch.WithRecorder(archived))
		logger.Debug("recording run", "archive", archive.Path(), "run", archived.ID)
	}

	client, err := fetch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create fetch client: %w", err)
	}

	followLog := in.stderr
	if in.follow != nil {
		followLog = io.MultiWriter(in.stderr, in.follow)
	}
	interpreter := interp.New(client,
		interp.WithOutput(in.stdout),
		interp.WithFollowLog(followLog),
		interp.WithLogger(logger),
	)

	var res *interp.Result
	if len(in.urls) > 0 {
		res, err = interpreter.RunLocators(ctx, prog, in.urls)
	} else {
		res, err = interpreter.RunText(ctx, prog, text)
	}

	if archived != nil {
		var stats interp.Stats
		if res != nil {
			stats = res.Stats
		}
		// The run context may be cancelled; the record must still be closed.
		if ferr := archived.Finish(context.WithoutCancel(ctx), archiveStats(stats), err); ferr != nil {
			logger.Warn("failed to finish archived run", "run", archived.ID, "error", ferr)
		}
	}

	if cfg.CookieFile != "" {
		if serr := jar.SaveCookieFile(cfg.CookieFile); serr != nil {
			err = errors.Join(err, serr)
		}
	}

	if err != nil {
		return err
	}
	return writeResults(in.results, res.Contexts)
}

// writeResults writes the text of each context to w, one per line.
func writeResults(w io.Writer, contexts []interp.Context) error {
	if w == nil {
		return nil
	}
	bw := bufio.NewWriter(w)
	for _, c := range contexts {
		if _, err := bw.WriteString(c.Text + "\n"); err != nil {
			return &interp.OutputWriteError{Stream: "result", Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		return &interp.OutputWriteError{Stream: "result", Err: err}
	}
	return nil
}

// archiveStats converts run statistics into their stored form.
func archiveStats(s interp.Stats) database.Stats {
	return database.Stats{
		Fetched:     s.Fetched,
		Failed:      s.Failed,
		Duplicates:  s.Duplicates,
		QueryErrors: s.QueryErrors,
		Emitted:     s.Emitted,
	}
}

// fetchSites converts the per-host settings of the configuration into the
// form the fetch client uses.
func fetchSites(sites map[string]config.SiteConfig) map[string]fetch.Site {
	out := make(map[string]fetch.Site, len(sites))
	for host, s := range sites {
		out[host] = fetch.Site{
			Headers:        s.Headers,
			Cookie:         s.Cookie,
			IgnorePatterns: s.IgnorePatterns,
		}
	}
	return out
}

// buildConfig creates a Config from the configuration file and the cobra
// command flags. Flags the user set override the file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.UserAgent = userAgent()
	cfg.Verbose = getVerboseFlag(cmd)
	cfg.LogFormat = getLogFormatFlag(cmd)

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use defaults if no file found.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		if err := file.Apply(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	flags := cmd.Flags()

	if flags.Changed("max-connections-per-host") {
		if cfg.MaxConnectionsPerHost, err = flags.GetInt("max-connections-per-host"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("max-connections") {
		if cfg.MaxConnections, err = flags.GetInt("max-connections"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("connect-timeout") {
		if cfg.ConnectTimeout, err = durationFlag(cmd, "connect-timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("total-timeout") {
		if cfg.TotalTimeout, err = durationFlag(cmd, "total-timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("rate") {
		if cfg.RequestsPerSecond, err = flags.GetFloat64("rate"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("proxy") {
		if cfg.Proxy, err = flags.GetString("proxy"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("user-agent") {
		if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("cookie-file") {
		if cfg.CookieFile, err = flags.GetString("cookie-file"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("delimiter") {
		s, err := flags.GetString("delimiter")
		if err != nil {
			return nil, err
		}
		if cfg.Delimiter, err = config.ParseDelimiter(s); err != nil {
			return nil, err
		}
	}

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		name, value, err := config.ParseHeader(h)
		if err != nil {
			return nil, err
		}
		cfg.Headers[name] = value
	}

	cfg.Archive, err = flags.GetBool("archive")
	if err != nil {
		return nil, err
	}
	if flags.Changed("archive-dir") {
		if cfg.ArchiveDir, err = flags.GetString("archive-dir"); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// durationFlag parses a timeout flag given in seconds or as a Go duration.
func durationFlag(cmd *cobra.Command, name string) (time.Duration, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		return 0, err
	}
	d, err := config.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}
