package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/livetemplate/mdview"
	"github.com/livetemplate/mdview/internal/config"
	"github.com/livetemplate/mdview/internal/export"
	"github.com/livetemplate/mdview/internal/logging"
	"github.com/livetemplate/mdview/internal/theme"
)

type convertOptions struct {
	commonOptions
	exportPath string
	doc        string
}

func parseConvertFlags(args []string) (*pflag.FlagSet, *convertOptions, error) {
	opts := &convertOptions{}
	flags := pflag.NewFlagSet("convert", pflag.ContinueOnError)
	opts.register(flags)
	flags.StringVarP(&opts.exportPath, "export-path", "o", "", "Output file or directory (default: export.dir)")

	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	if flags.NArg() != 1 {
		return nil, nil, fmt.Errorf("usage: mdview convert <file.md> [--export-path PATH] [--css NAME]")
	}
	opts.doc = flags.Arg(0)
	return flags, opts, nil
}

// ConvertCommand renders a document once and writes a standalone HTML file.
func ConvertCommand(args []string) error {
	flags, opts, err := parseConvertFlags(args)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags, &opts.commonOptions, cwd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	initLogging(cfg)

	path, err := convert(cfg, cwd, opts.doc, opts.exportPath)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// convert writes doc as a standalone page and returns the file written.
// The theme is linked by file URL when the theme directory has one.
func convert(cfg *config.Config, cwd, doc, target string) (string, error) {
	root, err := resolveRoot(cfg, cwd)
	if err != nil {
		return "", err
	}
	docPath, err := documentPath(root, doc)
	if err != nil {
		return "", err
	}

	converter := mdview.NewConverter(mdview.Options{
		Highlight:      cfg.Render.IsHighlightEnabled(),
		HighlightStyle: cfg.Render.GetHighlightStyle(),
	})
	document, err := converter.LoadDocument(root, docPath)
	if err != nil {
		return "", err
	}

	page := mdview.Page{
		Title: filepath.Base(docPath),
		Body:  document.HTML,
	}
	if href := exportTheme(cfg); href != "" {
		page.Theme = href
	}
	if converter.HighlightEnabled() {
		css, err := converter.HighlightCSS()
		if err != nil {
			return "", err
		}
		page.Styles = append(page.Styles, css)
	}

	path, err := export.New(cfg.Export.GetDir()).Write(page, target)
	if err != nil {
		return "", err
	}
	log := logging.For("convert")
	log.Info().Str("file", path).Msg("exported html")
	return path, nil
}

// exportTheme returns the file URL of the configured theme, or of the first
// theme when none is configured.
func exportTheme(cfg *config.Config) string {
	themes, err := theme.New(cfg.Themes.GetDir(), theme.Options{Ignore: cfg.Themes.Ignore})
	if err != nil {
		return ""
	}
	defer themes.Close()

	id := theme.ID(cfg.Themes.Default)
	if cfg.Themes.Default == "" || themes.IndexOf(id) < 0 {
		if id, err = themes.At(0); err != nil {
			return ""
		}
	}
	p, err := themes.Path(id)
	if err != nil {
		return ""
	}
	return export.FileURL(p)
}
