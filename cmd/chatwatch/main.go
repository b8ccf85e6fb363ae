// Command chatwatch observes a chat page and reports its classified
// structure and recent messages.
//
// Usage:
//
//	chatwatch -config chatwatch.yaml              # observe the configured page
//	chatwatch -url https://chat.example.com/c/1   # open a tab and observe it
//	chatwatch -remote http://127.0.0.1:9222 -attach chat.example.com
//	chatwatch -file saved.html                    # one pass over a saved page
//	chatwatch -fetch https://example.com/forum    # one pass over fetched markup
//	chatwatch -url ... -mcp                       # serve the controls over MCP stdio
//	chatwatch -url ... -addr :8090                # serve the controls over HTTP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/chatwatch/chatwatch"
)

const version = "0.1.0"

type flags struct {
	config   string
	url      string
	attach   string
	remote   string
	file     string
	fetch    string
	mcp      bool
	addr     string
	logLevel string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to chatwatch.yaml config file")
	flag.StringVar(&f.url, "url", "", "open a tab at this URL and observe it")
	flag.StringVar(&f.attach, "attach", "", "observe the open tab whose URL contains this")
	flag.StringVar(&f.remote, "remote", "", "DevTools URL of a running Chrome")
	flag.StringVar(&f.file, "file", "", "classify a saved HTML page")
	flag.StringVar(&f.fetch, "fetch", "", "classify the markup fetched from a URL over HTTP")
	flag.BoolVar(&f.mcp, "mcp", false, "serve the operator controls as MCP tools on stdio")
	flag.StringVar(&f.addr, "addr", "", "serve the operator HTTP API on this address")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Error("chatwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg := chatwatch.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = chatwatch.LoadConfigFile(f.config); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if f.url != "" {
		cfg.Page.URL = f.url
	}
	if f.attach != "" {
		cfg.Page.Attach = f.attach
	}
	if f.remote != "" {
		cfg.Browser.Remote = f.remote
	}
	if f.addr != "" {
		cfg.Control.Addr = f.addr
	}

	static := f.file != "" || f.fetch != ""
	if !static && cfg.Page.URL == "" && cfg.Page.Attach == "" {
		fmt.Fprintln(os.Stderr, "usage: chatwatch -config <file> | -url <url> | -attach <match> | -file <page.html> | -fetch <url>")
		os.Exit(2)
	}

	// MCP owns stdout; reports go to stderr instead.
	var out io.Writer = os.Stdout
	if f.mcp {
		out = os.Stderr
	}
	sinks, err := chatwatch.SinksFromConfig(cfg.Sinks, out, logger)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		sinks = append(sinks, chatwatch.NewStdoutSink(out, "json"))
	}
	opts := []chatwatch.Option{chatwatch.WithSinks(sinks...), chatwatch.WithLogger(logger)}

	var sess *chatwatch.Session
	switch {
	case f.file != "":
		sess, err = chatwatch.OpenFile(cfg, f.file, opts...)
	case f.fetch != "":
		sess, err = chatwatch.OpenURL(ctx, cfg, f.fetch, opts...)
	default:
		w := chatwatch.NewWatcher(cfg, opts...)
		sess, err = w.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer sess.Close()

	if static {
		if err := sess.Activate(ctx); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		if !f.mcp && cfg.Control.Addr == "" {
			return nil
		}
	}

	if cfg.Control.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Control.Addr,
			Handler:           sess.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("chatwatch: control API listening", "addr", cfg.Control.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("chatwatch: control API", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	if f.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "chatwatch", Version: version}, nil)
		sess.RegisterMCP(srv)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}
