package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assetstore/extractor/internal/config"
	"assetstore/extractor/internal/container"
	"assetstore/extractor/internal/domain"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const usage = `Usage: extractor <command> [flags]

Commands:
  run --pass=search|product|publisher   run one extraction pass
  thumbnails                            download record thumbnails
  serve                                 serve records, categories and jobs over HTTP

Run "extractor <command> --help" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	command := os.Args[1]
	flags := pflag.NewFlagSet(command, pflag.ExitOnError)
	flags.String("config", "", "path to a config file (default ./config.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	var passName string
	switch command {
	case "run":
		flags.StringVar(&passName, "pass", "", "pass to run: search, product or publisher")
		addExtractorFlags(flags)
		addFetcherFlags(flags)
	case "thumbnails":
		passName = string(domain.PassThumbnails)
		flags.String("output-dir", "", "directory holding record JSON files")
		flags.String("thumbnail-dir", "", "directory thumbnails are written to")
		flags.Int("concurrency", 0, "parallel downloads")
		flags.Bool("overwrite", false, "replace thumbnails that already exist")
		flags.Bool("dry-run", false, "report planned downloads without writing")
		flags.Int("limit", 0, "process at most N records (0 = all)")
	case "serve":
		addExtractorFlags(flags)
		addFetcherFlags(flags)
		flags.String("host", "", "address to listen on")
		flags.Int("port", 0, "port to listen on")
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}

	if err := flags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Log.ConfigureLogging()
	log.Info("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == "serve" {
		serve(ctx, cfg)
		return
	}

	pass, err := domain.ParsePass(passName)
	if err != nil {
		log.Fatalf("Invalid --pass: %v", err)
	}
	run(ctx, cfg, pass)
}

func run(ctx context.Context, cfg *config.Config, pass domain.Pass) {
	log.Infof("Starting %s...", pass.GetPassName())
	if cfg.Extractor.DryRun {
		log.Info("📝 Dry run: nothing will be written")
	}

	app, err := container.New(ctx, cfg, pass != domain.PassThumbnails)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	_, err = app.Run(ctx, pass)
	app.Close()
	if err != nil {
		log.Fatalf("Application exited with error: %v", err)
	}

	log.Info("Application finished successfully")
}

func serve(ctx context.Context, cfg *config.Config) {
	app, err := container.New(ctx, cfg, true)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	err = app.Serve(ctx)
	app.Close()
	if err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

func addExtractorFlags(flags *pflag.FlagSet) {
	flags.String("base-url", "", "marketplace base URL")
	flags.String("input-dir", "", "directory of local source files")
	flags.String("output-dir", "", "directory holding record JSON files")
	flags.String("snapshot-dir", "", "directory HTML snapshots are stored in")
	flags.String("tree-file", "", "path of the category tree JSON file")
	flags.Bool("dry-run", false, "report changes without writing")
	flags.Int("limit", 0, "process at most N items (0 = all)")
	flags.Bool("refetch", false, "ignore stored snapshots and fetch again")
	flags.Int("fetch-workers", 0, "parallel page fetches")
}

func addFetcherFlags(flags *pflag.FlagSet) {
	flags.String("fetcher", "", "page fetcher: browser or http")
	flags.Bool("headless", true, "run the browser headless")
}
