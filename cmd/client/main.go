package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tripalgpt/tripal-chat/internal/handlers"
	"github.com/tripalgpt/tripal-chat/internal/services"
	"github.com/urfave/cli/v2"
)

const errLoggerKey = "err"

var (
	configPath    string
	backendURL    string
	transportKind string
	previewAddr   string
	htmlOutput    string
	logLevel      string
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	app := &cli.App{
		Name:  "tripal-chat",
		Usage: "Chat with the TriPalGPT travel assistant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to the config file. Falls back to $XDG_CONFIG_HOME/tripal/config.yaml",
				Aliases:     []string{"c"},
				EnvVars:     []string{"TRIPAL_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "url",
				Usage:       "Base URL of the chat backend",
				Aliases:     []string{"u"},
				EnvVars:     []string{"TRIPAL_URL"},
				Destination: &backendURL,
			},
			&cli.StringFlag{
				Name:        "transport",
				Usage:       "Transport kind: http, sse or websocket",
				Aliases:     []string{"t"},
				EnvVars:     []string{"TRIPAL_TRANSPORT"},
				Destination: &transportKind,
			},
			&cli.StringFlag{
				Name:        "preview",
				Usage:       "Address to serve the browser preview on, e.g. :8080",
				EnvVars:     []string{"TRIPAL_PREVIEW"},
				Destination: &previewAddr,
			},
			&cli.StringFlag{
				Name:        "html",
				Usage:       "Path of a standalone HTML transcript to keep up to date",
				EnvVars:     []string{"TRIPAL_HTML"},
				Destination: &htmlOutput,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level: debug, info, warn or error",
				EnvVars:     []string{"TRIPAL_LOG_LEVEL"},
				Destination: &logLevel,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if configPath == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("error getting user config dir: %w", err)
		}
		configPath = filepath.Join(cfgDir, "tripal", "config.yaml")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.override(transportKind, backendURL); err != nil {
		return err
	}
	if previewAddr != "" {
		cfg.Preview = previewAddr
	}
	if htmlOutput != "" {
		cfg.HTMLOutput = htmlOutput
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	transport, err := cfg.Transport.transport(logger)
	if err != nil {
		return err
	}
	logger.Info("Using transport", slog.String("kind", cfg.Transport.kind()), slog.String("url", cfg.Transport.url()))

	highlightStyle := cfg.HighlightStyle
	if highlightStyle == "" {
		highlightStyle = services.DefaultHighlightStyle
	}
	markdown := services.NewMarkdown(highlightStyle)

	view, err := handlers.NewView()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputs := make(chan string)
	scrolls := make(chan handlers.ScrollPosition)

	term := newTerminal(os.Stdout, os.Stdin)
	displays := handlers.Displays{term}

	if cfg.HTMLOutput != "" {
		displays = append(displays, newHTMLFile(cfg.HTMLOutput, view, logger))
	}

	var srv *http.Server
	var preview *handlers.Preview
	if cfg.Preview != "" {
		preview = handlers.NewPreview(view, inputs, scrolls, logger)
		router, err := preview.Router()
		if err != nil {
			return err
		}
		displays = append(displays, preview)

		srv = &http.Server{
			Addr:              cfg.Preview,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		srv.RegisterOnShutdown(func() {
			if err := preview.Shutdown(context.Background()); err != nil {
				logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
			}
		})

		go func() {
			logger.Info("Preview starting", slog.String("addr", cfg.Preview))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Preview server error", slog.String(errLoggerKey, err.Error()))
				stop()
			}
		}()
	}

	renderer := handlers.NewRenderer(transport, markdown, displays, cfg.FailureMessage, logger)

	if term.interactive {
		fmt.Fprint(os.Stdout, "> ")
	}
	// The preview keeps sending on inputs, so stdin EOF only ends the session when there is no preview.
	go readInputs(ctx, os.Stdin, inputs, term.ready, term.retry, preview == nil)

	runErr := renderer.Run(ctx, inputs, scrolls)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	return runErr
}

// readInputs sends each line of r to inputs, waiting for ready before each one so lines piped in are not
// submitted while a reply is still in flight. Lines on retry were turned away earlier and go first.
func readInputs(ctx context.Context, r io.Reader, inputs chan<- string, ready <-chan struct{}, retry <-chan string,
	closeOnEOF bool,
) {
	scanner := bufio.NewScanner(r)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
		}

		var line string
		select {
		case line = <-retry:
		default:
			var ok bool
			if line, ok = nextLine(scanner); !ok {
				if closeOnEOF {
					close(inputs)
				}
				return
			}
		}

		// Every line sent is followed by an unlock or a rejection, so earlier tokens are stale.
		select {
		case <-ready:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case inputs <- line:
		}
	}
}

// nextLine returns the next line that is not blank. Blank lines never lock input, so there would be no
// unlock to wait for.
func nextLine(scanner *bufio.Scanner) (string, bool) {
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			return scanner.Text(), true
		}
	}
	return "", false
}
