package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/livetemplate/mdview/internal/config"
	"github.com/livetemplate/mdview/internal/logging"
	"github.com/livetemplate/mdview/internal/server"
	"github.com/livetemplate/mdview/internal/theme"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	commonOptions
	port int
	host string
	poll string
	doc  string
}

func parseServeFlags(args []string) (*pflag.FlagSet, *serveOptions, error) {
	opts := &serveOptions{}
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	opts.register(flags)
	flags.IntVarP(&opts.port, "port", "p", 0, "Port to listen on (default 2323)")
	flags.StringVar(&opts.host, "host", "", "Host to bind (default localhost)")
	flags.StringVar(&opts.poll, "poll", "", "Document poll interval, e.g. 500ms")

	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	if flags.NArg() != 1 {
		return nil, nil, fmt.Errorf("usage: mdview serve <file.md> [flags]")
	}
	opts.doc = flags.Arg(0)
	return flags, opts, nil
}

// ServeCommand implements the serve command.
func ServeCommand(args []string) error {
	flags, opts, err := parseServeFlags(args)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := serveConfig(flags, opts, cwd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, ln, cfg, cwd, opts.doc)
}

func serveConfig(flags *pflag.FlagSet, opts *serveOptions, cwd string) (*config.Config, error) {
	cfg, err := loadConfig(flags, &opts.commonOptions, cwd)
	if err != nil {
		return nil, err
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("poll") {
		cfg.Document.PollInterval = opts.poll
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the viewer on ln until ctx is cancelled.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, cwd, doc string) error {
	log := logging.For("serve")

	root, err := resolveRoot(cfg, cwd)
	if err != nil {
		return err
	}
	docPath, err := documentPath(root, doc)
	if err != nil {
		return err
	}

	themeDir := cfg.Themes.GetDir()
	if err := os.MkdirAll(themeDir, 0755); err != nil {
		return fmt.Errorf("failed to create theme dir: %w", err)
	}
	themes, err := theme.New(themeDir, theme.Options{Ignore: cfg.Themes.Ignore})
	if err != nil {
		return err
	}
	defer themes.Close()

	if err := themes.Watch(); err != nil {
		log.Warn().Err(err).Str("dir", themeDir).Msg("theme watching disabled")
	}
	if themes.Len() == 0 {
		log.Warn().Str("dir", themeDir).Msg("no css files found, pages will be unstyled")
	}

	srv := server.New(root, docPath, cfg, themes)
	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	log.Info().
		Str("url", fmt.Sprintf("http://%s/?path=%s", ln.Addr(), docPath)).
		Str("root", root).
		Str("themes", themeDir).
		Int("themes_found", themes.Len()).
		Msg("mdview running, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	// Sessions live on hijacked connections that Shutdown does not track.
	srv.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
