// Command selfcal runs a chain of self-calibration stages described by a
// pipeline configuration file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/banshee-data/selfcal/internal/config"
	"github.com/banshee-data/selfcal/internal/monitoring"
	"github.com/banshee-data/selfcal/internal/pipeline"
	"github.com/banshee-data/selfcal/internal/store"
	"github.com/banshee-data/selfcal/internal/version"
)

// Environment variables consulted after .env is loaded.
const (
	envCASA     = "SELFCAL_CASA"
	envCASAHost = "SELFCAL_CASA_HOST"
	envDB       = "SELFCAL_DB"
)

var (
	configPath  = flag.String("config", "", "Pipeline configuration file (.json, .yaml or .yml)")
	dbPath      = flag.String("db", "", "Run history database (overrides db_path and "+envDB+")")
	reportDir   = flag.String("report-dir", "", "Directory for PSNR reports (overrides report_dir)")
	casaPath    = flag.String("casa", "", "casa executable (overrides casa.path and "+envCASA+")")
	casaHost    = flag.String("casa-host", "", "Host to run casa on over ssh (overrides casa.host and "+envCASAHost+")")
	dryRun      = flag.Bool("dry-run", false, "Print commands instead of running them")
	verbose     = flag.Bool("verbose", false, "Log every command")
	listRuns    = flag.Int("list-runs", 0, "Print the most recent N runs from the database and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	setLogOutput(os.Stdout)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[selfcal] Ignoring .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *listRuns > 0 {
		err = printRuns(os.Stdout, resolveDBPath(""), *listRuns)
	} else {
		err = run(ctx)
	}
	if err != nil {
		log.Printf("[selfcal] %v", err)
		os.Exit(1)
	}
}

// setLogOutput sends the pipeline log, including per-iteration PSNR, noise
// and peak, to w. Fatal errors still go to stderr through the standard logger.
func setLogOutput(w io.Writer) {
	monitoring.SetLogger(log.New(w, "", log.LstdFlags).Printf)
}

func run(ctx context.Context) error {
	if *configPath == "" {
		return fmt.Errorf("-config is required")
	}
	cfg, err := config.LoadPipelineConfig(*configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, overrides{
		CASA:      *casaPath,
		CASAHost:  *casaHost,
		ReportDir: *reportDir,
		DryRun:    *dryRun,
	})

	monitoring.Logf("[selfcal] %s", version.String())
	opts := pipeline.Options{Verbose: *verbose}
	if path := resolveDBPath(cfg.GetDBPath()); path != "" {
		st, err := store.Open(path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Store = st
	}

	p, err := pipeline.New(cfg, opts)
	if err != nil {
		return err
	}
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	for i, s := range res.Stages {
		monitoring.Logf("[selfcal] stage%d (%s): %s, PSNR %v", i, s.CalMode, s.Visfile, s.PSNR)
	}
	if res.Output != nil {
		monitoring.Logf("[selfcal] Output: %s", res.Output.Vis)
	}
	return nil
}

// overrides holds the command-line settings that take precedence over the
// environment and the configuration file.
type overrides struct {
	CASA      string
	CASAHost  string
	ReportDir string
	DryRun    bool
}

// applyOverrides lays flags over the environment over the file.
func applyOverrides(cfg *config.PipelineConfig, o overrides) {
	if v := firstNonEmpty(o.CASA, os.Getenv(envCASA)); v != "" {
		cfg.SetCASAPath(v)
	}
	if v := firstNonEmpty(o.CASAHost, os.Getenv(envCASAHost)); v != "" {
		cfg.SetCASAHost(v)
	}
	if o.ReportDir != "" {
		cfg.ReportDir = &o.ReportDir
	}
	if o.DryRun {
		cfg.SetCASADryRun(true)
	}
}

func resolveDBPath(fromConfig string) string {
	return firstNonEmpty(*dbPath, os.Getenv(envDB), fromConfig)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printRuns(w io.Writer, path string, limit int) error {
	if path == "" {
		return fmt.Errorf("-list-runs needs -db or %s", envDB)
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	runs, err := st.ListRuns(limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
