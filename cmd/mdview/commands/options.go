// Package commands implements the mdview subcommands.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/livetemplate/mdview/internal/config"
	"github.com/livetemplate/mdview/internal/logging"
)

// commonOptions are the flags shared by serve and convert.
type commonOptions struct {
	configPath string
	root       string
	css        string
	cssDir     string
	logLevel   string
	pretty     bool
}

func (o *commonOptions) register(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configPath, "config", "c", "", "Config file (default: mdview.yaml in the working directory)")
	flags.StringVar(&o.root, "root", "", "Directory documents resolve against (default: working directory)")
	flags.StringVar(&o.css, "css", "", "Initial theme filename, e.g. github.css")
	flags.StringVar(&o.cssDir, "css-dir", "", "Theme directory")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&o.pretty, "pretty", true, "Human-readable console logs")
}

// loadConfig resolves configuration in order of precedence: defaults, the
// config file, MDVIEW_* environment variables, then flags that were set.
func loadConfig(flags *pflag.FlagSet, o *commonOptions, cwd string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadFromDir(cwd)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if flags.Changed("root") {
		cfg.Server.Root = o.root
	}
	if flags.Changed("css") {
		cfg.Themes.Default = o.css
	}
	if flags.Changed("css-dir") {
		cfg.Themes.Dir = o.cssDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = o.pretty
	}

	return cfg, nil
}

func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Output: os.Stderr,
		Pretty: cfg.Log.Pretty,
	})
}

// resolveRoot returns the absolute document root.
func resolveRoot(cfg *config.Config, cwd string) (string, error) {
	root := cfg.Server.Root
	if root == "" {
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("root directory does not exist: %s", root)
	}
	return abs, nil
}

// documentPath expresses doc relative to root when it lies inside it, so
// rewritten links and the page address stay short.
func documentPath(root, doc string) (string, error) {
	abs, err := filepath.Abs(doc)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("document does not exist: %s", doc)
	}
	if info.IsDir() {
		return "", fmt.Errorf("document is a directory: %s", doc)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs, nil
	}
	return filepath.ToSlash(rel), nil
}
