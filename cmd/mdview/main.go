// Command mdview is a live markdown viewer with switchable stylesheets.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/livetemplate/mdview/cmd/mdview/commands"
)

const version = "0.1.0-dev"

func main() {
	// maxprocs.Set only fails on an invalid GOMAXPROCS, in which case the
	// runtime default stays in effect.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: .env: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = commands.ServeCommand(args)
	case "convert":
		err = commands.ConvertCommand(args)
	case "version":
		fmt.Printf("mdview version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("mdview - Live markdown viewer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mdview serve <file.md> [flags]     Serve a document with live reload")
	fmt.Println("  mdview convert <file.md> [flags]   Write a standalone HTML export")
	fmt.Println("  mdview version                     Show version")
	fmt.Println("  mdview help                        Show this help")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -p, --port PORT        Port to listen on (default 2323)")
	fmt.Println("      --host HOST        Host to bind (default localhost)")
	fmt.Println("  -c, --config FILE      Config file (default ./mdview.yaml)")
	fmt.Println("      --root DIR         Directory documents resolve against")
	fmt.Println("      --css NAME         Initial theme filename")
	fmt.Println("      --css-dir DIR      Theme directory")
	fmt.Println("      --poll DURATION    Document poll interval (serve)")
	fmt.Println("  -o, --export-path P    Output file or directory (convert)")
	fmt.Println("      --log-level LEVEL  debug, info, warn, error")
	fmt.Println("      --pretty           Human-readable logs (default true)")
	fmt.Println()
	fmt.Println("Keys in the viewer:")
	fmt.Println("  c / C   next / previous theme")
	fmt.Println("  e       export to HTML")
	fmt.Println("  r       back to the starting document")
	fmt.Println()
	fmt.Println("Environment: MDVIEW_HOST, MDVIEW_PORT, MDVIEW_THEMES_DIR (a .env file is read first)")
}
