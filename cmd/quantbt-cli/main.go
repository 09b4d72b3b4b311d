package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"quantbt/internal/config"
	"quantbt/internal/pipeline"
	"quantbt/internal/rundir"
	"quantbt/internal/store"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quantbt-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  stages     List available pipeline stages\n")
		fmt.Fprintf(os.Stderr, "  runs [n]   List the n most recent runs (default 20, 0 for all)\n")
		fmt.Fprintf(os.Stderr, "  artifacts <run-id>\n")
		fmt.Fprintf(os.Stderr, "             List the files written by a run\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "The ledger path and results dir are read from $QUANTBT_CONFIG (default configs/default.yaml).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("quantbt-cli %s\n", version)

	case "stages":
		for _, name := range pipeline.DefaultRegistry().List() {
			fmt.Println(name)
		}

	case "runs":
		limit, err := parseLimit(os.Args[2:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "runs: %v\n", err)
			os.Exit(1)
		}
		if err := listRuns(context.Background(), os.Stdout, configPath(), limit); err != nil {
			fmt.Fprintf(os.Stderr, "runs: %v\n", err)
			os.Exit(1)
		}

	case "artifacts":
		if len(os.Args) != 3 {
			flag.Usage()
			os.Exit(1)
		}
		if err := listArtifacts(os.Stdout, configPath(), os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "artifacts: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("QUANTBT_CONFIG"); p != "" {
		return p
	}
	return "configs/default.yaml"
}

const defaultRunLimit = 20

// parseLimit reads the optional run count argument.
func parseLimit(args []string) (int, error) {
	if len(args) == 0 {
		return defaultRunLimit, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid run count %q", args[0])
	}
	return n, nil
}

// listArtifacts prints the files inside one run directory.
func listArtifacts(w io.Writer, cfgPath, id string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	dir, err := rundir.Open(cfg.Output.ResultsDir, id)
	if err != nil {
		return err
	}
	files, err := dir.Artifacts()
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(w, f)
	}
	return nil
}

// listRuns prints the most recent ledger entries as a table.
func listRuns(ctx context.Context, w io.Writer, cfgPath string, limit int) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage.RunDB == "" {
		return fmt.Errorf("storage.run_db is not set in %s", cfgPath)
	}

	ledger, err := store.NewSQLiteStore(cfg.Storage.RunDB)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTAGE\tSTATUS\tSEED\tDAILY\tSIGNALS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Stage, r.Status, r.Seed, r.DailyCandles, r.Signals)
	}
	return tw.Flush()
}
