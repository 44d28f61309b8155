package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	shellcache "github.com/celesys/shell-cache"
	"github.com/celesys/shell-cache/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	cacheNameFlag      string
	dbFilenameFlag     string
	adminAddrFlag      string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&cacheNameFlag, "cache-name", "", "Cache generation name, e.g. myapp-v2 (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&adminAddrFlag, "admin", "", "Address for the admin listener (metrics and health), e.g. :9090")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout, rotated)")

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

	// set up log output to stdout
	// also output to a rotating logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   logFilenameFlag,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config Config
	if configFilenameFlag != "" {
		var err error
		config, err = getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
	}

	// flags override config file values
	if originFlag != "" {
		config.Origin = originFlag
	}
	if cacheNameFlag != "" {
		config.CacheName = cacheNameFlag
	}
	if config.Port == 0 {
		config.Port = portFlag
	}

	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	if config.CacheName == "" {
		log.Fatal().Msg("Please specify cache generation name")
	}

	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	// set up the snapshot store
	var provider store.Provider
	if dbFilenameFlag == "memory" {
		provider = store.NewMemStore()
	} else {
		provider = store.NewSQLiteStore(dbFilenameFlag)
	}

	engine := shellcache.CreateEngine(shellcache.Config{
		Store:     provider,
		OriginURL: *originURL,
		CacheName: config.CacheName,
		Manifest:  config.Manifest,
		Logger:    &log.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// install and activate before taking traffic
	if err := engine.Startup(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not start cache engine")
	}

	if adminAddrFlag != "" {
		go serveAdmin(adminAddrFlag, engine)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: hlog.NewHandler(log.Logger)(engine),
	}

	go func() {
		log.Info().Msgf("Proxying port %v to %s (cache %q)", config.Port, originURL.String(), config.CacheName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down cleanly")
	}
	// wait for in-flight cache writes before exiting
	engine.Drain()
}

func serveAdmin(addr string, engine *shellcache.Engine) {
	r := chi.NewRouter()
	r.Handle("/metrics", engine.Metrics().Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	log.Info().Msgf("Admin listener on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error().Err(err).Msg("Admin listener error")
	}
}
