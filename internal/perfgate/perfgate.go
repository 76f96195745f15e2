// Package perfgate compares two `go test -bench` outputs and flags tracked
// benchmarks whose median got slower than the allowed ratio.
package perfgate

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// DefaultLimit is the allowed regression ratio when a Target sets none.
const DefaultLimit = 0.30

// Target names one benchmark unit to compare.
type Target struct {
	Benchmark string
	Unit      string
	// Limit overrides DefaultLimit when positive.
	Limit float64
}

// DefaultTargets covers the hot paths of login, lockout and token checks.
// Argon2 dominates the login benchmark, so it gets a looser limit.
var DefaultTargets = []Target{
	{Benchmark: "BenchmarkEvaluateLocked", Unit: "ns/op"},
	{Benchmark: "BenchmarkEvaluateLocked", Unit: "allocs/op"},
	{Benchmark: "BenchmarkLockoutApplyFailure", Unit: "ns/op"},
	{Benchmark: "BenchmarkValidateToken", Unit: "ns/op"},
	{Benchmark: "BenchmarkValidateToken", Unit: "allocs/op"},
	{Benchmark: "BenchmarkMetricsInc", Unit: "ns/op"},
	{Benchmark: "BenchmarkLoginWrongPassword", Unit: "ns/op", Limit: 0.50},
}

// Samples holds every value seen per benchmark and unit.
type Samples map[string]map[string][]float64

// Row is one compared target.
type Row struct {
	Target    Target
	Baseline  float64
	Candidate float64
	Delta     float64
	Regressed bool
}

// Result is the outcome of Compare.
type Result struct {
	Rows     []Row
	Failures []string
}

// OK reports whether no target regressed or went missing.
func (r Result) OK() bool {
	return len(r.Failures) == 0
}

// Parse reads benchmark lines from r. Only benchmarks named in targets are
// kept; the -N GOMAXPROCS suffix is stripped.
func Parse(r io.Reader, targets []Target) (Samples, error) {
	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[t.Benchmark] = true
	}

	samples := Samples{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := trimProcs(fields[0])
		if !wanted[name] {
			continue
		}
		units, ok := samples[name]
		if !ok {
			units = map[string][]float64{}
			samples[name] = units
		}
		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			units[fields[i+1]] = append(units[fields[i+1]], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// Compare checks candidate medians against baseline medians. Rows come back
// in target order.
func Compare(baseline, candidate Samples, targets []Target, defaultLimit float64) Result {
	var res Result
	for _, t := range targets {
		base := baseline[t.Benchmark][t.Unit]
		cand := candidate[t.Benchmark][t.Unit]
		if len(base) == 0 || len(cand) == 0 {
			res.Failures = append(res.Failures, fmt.Sprintf("missing samples for %s %s", t.Benchmark, t.Unit))
			continue
		}

		limit := defaultLimit
		if t.Limit > 0 {
			limit = t.Limit
		}

		row := Row{Target: t, Baseline: median(base), Candidate: median(cand)}
		switch {
		case row.Baseline > 0:
			row.Delta = (row.Candidate - row.Baseline) / row.Baseline
		case row.Candidate > 0:
			// zero allocs before, some now
			row.Delta = 1
		}
		if row.Delta > limit {
			row.Regressed = true
			res.Failures = append(res.Failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)",
				t.Benchmark, t.Unit, row.Delta*100, limit*100))
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

// Write prints the comparison table to w.
func (r Result) Write(w io.Writer) {
	fmt.Fprintln(w, "benchmark unit baseline candidate delta")
	for _, row := range r.Rows {
		mark := ""
		if row.Regressed {
			mark = " !"
		}
		fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%%%s\n",
			row.Target.Benchmark, row.Target.Unit, row.Baseline, row.Candidate, row.Delta*100, mark)
	}
}

func trimProcs(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
