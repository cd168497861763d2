package analyzer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteSummary writes a human-readable tabwriter-aligned report to w (the
// Analyzer CLI's default "summary" format), the same tabular style
// ja7ad/consumption's pretty-printer uses for its per-tick rows.
func WriteSummary(w io.Writer, summary *Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "horizon\t%s s\n", formatFloat(summary.Horizon))
	fmt.Fprintf(tw, "deadline misses\t%d\n", summary.DeadlineMisses)
	fmt.Fprintf(tw, "preemptions\t%d\n", summary.Preemptions)
	fmt.Fprintf(tw, "total energy\t%s mJ\n", formatFloat(summary.TotalEnergyMJ))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "task\tcount\tmin\tmax\tmean\tmedian\tstddev\tp95\tp99")
	for _, t := range summary.Tasks {
		rt := t.ResponseTime
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TaskID, rt.Count,
			formatFloat(rt.Min), formatFloat(rt.Max), formatFloat(rt.Mean),
			formatFloat(rt.Median), formatFloat(rt.StdDev), formatFloat(rt.P95), formatFloat(rt.P99))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "processor\tutilization\tenergy_mj")
	for _, p := range summary.Processors {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Proc, formatFloat(p.Utilization), formatFloat(p.EnergyMJ))
	}

	return tw.Flush()
}

// WriteJSON writes summary as a single JSON object to w.
func WriteJSON(w io.Writer, summary *Summary) error {
	stream := api.BorrowStream(w)
	defer api.ReturnStream(stream)
	stream.WriteVal(summary)
	stream.WriteRaw("\n")
	return stream.Flush()
}

// WriteCSV writes one row per task (response-time percentiles) followed by
// one row per processor (utilization and energy), using the standard
// library's encoding/csv: no example repo in the pack carries a CSV
// library, and the format itself is simple enough that stdlib's writer is
// the idiomatic choice here.
func WriteCSV(w io.Writer, summary *Summary) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"kind", "id", "count", "min", "max", "mean", "median", "stddev", "p95", "p99", "utilization", "energy_mj"}); err != nil {
		return err
	}
	for _, t := range summary.Tasks {
		rt := t.ResponseTime
		if err := cw.Write([]string{
			"task", strconv.FormatUint(t.TaskID, 10),
			strconv.Itoa(rt.Count),
			formatFloat(rt.Min), formatFloat(rt.Max), formatFloat(rt.Mean),
			formatFloat(rt.Median), formatFloat(rt.StdDev), formatFloat(rt.P95), formatFloat(rt.P99),
			"", "",
		}); err != nil {
			return err
		}
	}
	for _, p := range summary.Processors {
		if err := cw.Write([]string{
			"processor", strconv.FormatUint(p.Proc, 10),
			"", "", "", "", "", "", "", "",
			formatFloat(p.Utilization), formatFloat(p.EnergyMJ),
		}); err != nil {
			return err
		}
	}
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
