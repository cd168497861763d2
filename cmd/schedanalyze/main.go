// Command schedanalyze computes response-time, deadline-miss, utilization,
// and energy summaries from a recorded trace JSON file (spec.md §6's
// Analyzer CLI).
package main

import (
	"fmt"
	"os"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/fillien/schedsim/pkg/analyzer"
	"github.com/fillien/schedsim/pkg/trace"
)

type opts struct {
	input  string
	format string
	output string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "schedanalyze",
		Short: "Summarize a schedsim trace JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
		SilenceUsage: true,
	}

	f := root.Flags()
	f.StringVar(&o.input, "input", "", "trace JSON file (required)")
	f.StringVar(&o.format, "format", "summary", "output format: summary|csv|json")
	f.StringVar(&o.output, "output", "-", "output file (- for stdout)")

	if err := root.Execute(); err != nil {
		log.Errorf("schedanalyze: %v", err)
		os.Exit(1)
	}
}

func run(o opts) error {
	if o.input == "" {
		return usageErrorf("--input is required")
	}

	in, err := os.Open(o.input)
	if err != nil {
		return err
	}
	defer in.Close()
	records, err := trace.Load(in)
	if err != nil {
		return err
	}

	summary, err := analyzer.Analyze(records)
	if err != nil {
		return err
	}

	out := os.Stdout
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch o.format {
	case "summary":
		return analyzer.WriteSummary(out, summary)
	case "csv":
		return analyzer.WriteCSV(out, summary)
	case "json":
		return analyzer.WriteJSON(out, summary)
	default:
		return usageErrorf("unknown --format %q: want summary|csv|json", o.format)
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, a ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}
