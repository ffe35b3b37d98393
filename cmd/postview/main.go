package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/always-cache/postview/cache"
	"github.com/always-cache/postview/config"
	"github.com/always-cache/postview/posts"
	jsonclient "github.com/always-cache/postview/pkg/json-client"
	"github.com/always-cache/postview/web"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	baseURLFlag        string
	storeFlag          string
	dbFilenameFlag     string
	limitFlag          int
	addrFlag           string
	refreshFlag        bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&baseURLFlag, "base-url", "", "Posts API base URL (overrides config)")
	flag.StringVar(&storeFlag, "store", "", "Cache provider: memory, sqlite, bolt or redis (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name, or redis address for the redis provider (overrides config)")
	flag.IntVar(&limitFlag, "limit", 0, "Number of posts to fetch on a cache miss (overrides config)")
	flag.StringVar(&addrFlag, "addr", "", "Listen address for serve (overrides config)")
	flag.BoolVar(&refreshFlag, "refresh", false, "Drop the cached list before running")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stderr)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage: postview [flags] <command>

Commands:
  list                                  list posts (cached after the first fetch)
  show <id>                             show a single post
  create -title T -body B [-user N]     create a post
  serve                                 serve the views over HTTP

Flags:
`)
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stderr
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stderr})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Args()); err != nil {
		if jsonclient.IsCanceled(err) {
			log.Debug().Msg("Canceled")
			return
		}
		var validationErr *posts.ValidationError
		if errors.As(err, &validationErr) {
			fmt.Fprintln(os.Stderr, "Both title and body are required.")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("Failed")
		os.Exit(1)
	}
}

// loadConfig applies the CLI flags on top of the file and environment config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		return cfg, err
	}
	if baseURLFlag != "" {
		cfg.BaseURL = baseURLFlag
	}
	if storeFlag != "" {
		cfg.Store.Provider = storeFlag
	}
	if dbFilenameFlag != "" {
		if cfg.Store.Provider == "redis" {
			cfg.Store.RedisAddr = dbFilenameFlag
		} else {
			cfg.Store.Path = dbFilenameFlag
		}
	}
	if limitFlag > 0 {
		cfg.PageSize = limitFlag
	}
	if addrFlag != "" {
		cfg.HTTPAddr = addrFlag
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	provider, err := cache.Open(ctx, cfg.CacheOptions())
	if err != nil {
		return err
	}
	defer provider.Close()

	logger := log.Logger.With().Str("api", cfg.BaseURL).Logger()
	client := jsonclient.New(jsonclient.Config{Logger: &logger})
	endpoints := posts.Endpoints{Base: cfg.BaseURL}

	detail := posts.NewDetailView(posts.NewDetailFetcher(posts.DetailConfig{
		Fetcher:   client,
		Endpoints: endpoints,
		Logger:    &logger,
	}))
	defer detail.Close()

	store := posts.NewStore(posts.StoreConfig{
		Fetcher:   client,
		Cache:     provider,
		Endpoints: endpoints,
		PageSize:  cfg.PageSize,
		OnCreated: detail.Show,
		Logger:    &logger,
	})

	if refreshFlag {
		if err := store.Invalidate(ctx); err != nil {
			return err
		}
	}

	switch args[0] {
	case "list":
		list, err := store.Load(ctx)
		if err != nil {
			return err
		}
		printList(os.Stdout, list)
		return nil

	case "show":
		if len(args) != 2 {
			return fmt.Errorf("usage: postview show <id>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid post id: %s", args[1])
		}
		if err := detail.Select(ctx, id); err != nil {
			return err
		}
		printDetail(os.Stdout, detail.Snapshot())
		return nil

	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		title := fs.String("title", "", "Post title")
		body := fs.String("body", "", "Post body")
		userID := fs.Int("user", 1, "Owner user id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if _, err := store.Add(ctx, posts.Draft{UserID: *userID, Title: *title, Body: *body}); err != nil {
			return err
		}
		printDetail(os.Stdout, detail.Snapshot())
		fmt.Fprintln(os.Stdout, "\nNote: the demo API does not store created posts; fetching this id later returns 404.")
		return nil

	case "serve":
		return serve(ctx, cfg, web.New(web.Config{
			Store:  store,
			List:   posts.NewListView(store),
			Detail: detail,
			Logger: &logger,
		}))

	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func serve(ctx context.Context, cfg config.Config, server *web.Server) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("Serving posts from %s on %s", cfg.BaseURL, cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func printList(w io.Writer, list []posts.Post) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tTITLE")
	for _, p := range list {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", p.ID, p.UserID, p.Title)
	}
	tw.Flush()
}

func printDetail(w io.Writer, snap posts.DetailSnapshot) {
	if snap.Post == nil {
		fmt.Fprintln(w, "Select a post to see details...")
		return
	}
	fmt.Fprintf(w, "#%d %s\n\n%s\n", snap.Post.ID, snap.Post.Title, snap.Post.Body)
}
