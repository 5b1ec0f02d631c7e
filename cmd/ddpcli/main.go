// Package main is the entry point for ddpcli, a command-line client for
// exercising a DDP server: negotiating a connection, calling methods,
// and watching a live subscription.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/go-ddp"
	"github.com/nugget/go-ddp/internal/buildinfo"
	"github.com/nugget/go-ddp/internal/config"
	"github.com/nugget/go-ddp/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	logLevel := flag.String("log-level", "", "override configured log level (trace, debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "connect":
		runConnect(logger, *configPath, *logLevel)
	case "call":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: ddpcli call <method> [json-params]")
			os.Exit(1)
		}
		runCall(logger, *configPath, *logLevel, flag.Args()[1:])
	case "sub":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: ddpcli sub <collection>")
			os.Exit(1)
		}
		runSub(logger, *configPath, *logLevel, flag.Arg(1))
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("ddpcli - Distributed Data Protocol command-line client")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  connect        Negotiate a session and block until interrupted")
	fmt.Println("  call           Invoke a remote method and print its result")
	fmt.Println("  sub            Subscribe to a collection and print live updates")
	fmt.Println("  version        Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func loadConfig(logger *slog.Logger, configPath, logLevelOverride string) *config.Config {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}
	return cfg
}

func dial(ctx context.Context, logger *slog.Logger, cfg *config.Config) *ddp.Connection {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Error("log level", "error", err)
		os.Exit(1)
	}
	leveledLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	var opts []ddp.Option
	opts = append(opts, ddp.WithLogger(leveledLogger))
	if len(cfg.Server.Versions) > 0 {
		opts = append(opts, ddp.WithSupportedVersions(cfg.Server.Versions))
	}
	opts = append(opts, ddp.WithCrashHandler(func(err error) {
		logger.Error("connection lost", "error", err)
		os.Exit(1)
	}))

	conn, err := ddp.Connect(ctx, cfg.Server.URL, wstransport.DefaultDialer, opts...)
	if err != nil {
		logger.Error("connect", "url", cfg.Server.URL, "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "session", conn.Session(), "version", conn.Version())

	if cfg.Login.Configured() {
		login(conn, cfg.Login)
	}
	return conn
}

func login(conn *ddp.Connection, lc config.LoginConfig) {
	params := map[string]any{}
	if lc.Token != "" {
		params["resume"] = lc.Token
	} else {
		params["user"] = map[string]string{"username": lc.Username}
		params["password"] = lc.Password
	}

	done := make(chan struct{})
	conn.Call(lc.Method, []any{params}, func(res ddp.MethodResult) {
		if res.IsError {
			fmt.Fprintf(os.Stderr, "login failed: %s\n", res.Value)
		}
		close(done)
	})
	<-done
}

func runConnect(logger *slog.Logger, configPath, logLevelOverride string) {
	cfg := loadConfig(logger, configPath, logLevelOverride)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := dial(ctx, logger, cfg)
	defer conn.Close()

	<-ctx.Done()
	logger.Info("shutting down")
}

func runCall(logger *slog.Logger, configPath, logLevelOverride string, args []string) {
	cfg := loadConfig(logger, configPath, logLevelOverride)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := dial(ctx, logger, cfg)
	defer conn.Close()

	method := args[0]
	var params any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			fmt.Fprintf(os.Stderr, "invalid json params: %v\n", err)
			os.Exit(1)
		}
	}

	done := make(chan ddp.MethodResult, 1)
	if err := conn.Call(method, params, func(res ddp.MethodResult) { done <- res }); err != nil {
		fmt.Fprintf(os.Stderr, "call: %v\n", err)
		os.Exit(1)
	}

	select {
	case res := <-done:
		if res.IsError {
			fmt.Fprintf(os.Stderr, "error: %s\n", res.Value)
			os.Exit(1)
		}
		fmt.Println(string(res.Value))
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "interrupted waiting for result")
		os.Exit(1)
	case <-time.After(30 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for result")
		os.Exit(1)
	}
}

func runSub(logger *slog.Logger, configPath, logLevelOverride string, collection string) {
	cfg := loadConfig(logger, configPath, logLevelOverride)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := dial(ctx, logger, cfg)
	defer conn.Close()

	h := conn.Mongo(collection)
	h.OnAdd(func(id string, fields json.RawMessage) {
		fmt.Printf("+ %s %s\n", id, fields)
	})
	h.OnChange(func(id string, fields, cleared json.RawMessage) {
		fmt.Printf("~ %s %s cleared=%s\n", id, fields, cleared)
	})
	h.OnRemove(func(id string) {
		fmt.Printf("- %s\n", id)
	})
	h.OnReady(func(err json.RawMessage, ok bool) {
		if !ok {
			logger.Error("subscription rejected", "collection", collection, "error", string(err))
			os.Exit(1)
		}
		logger.Info("subscription ready", "collection", collection)
	})
	h.Subscribe()

	<-ctx.Done()
	h.Unsubscribe()
	logger.Info("shutting down")
}
