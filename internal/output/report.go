/*
PURPOSE:
  Renders the final HarnessReport as a human-readable console summary.

REQUIREMENTS:
  User-specified:
  - Header with device and approximate total duration.
  - Average and peak per workload, or a status line when there is none.
  - Maximum temperature, power draw and utilization, or "no data".

  Implementation-discovered:
  - Color must be switchable off (--no-color, non-TTY, tests).
  - CPU throughput is orders of magnitude below a GPU's, so values under 1
    step down to GFLOPS/MFLOPS or MB/s/KB/s.
  - Interrupted runs still print every configured workload.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/model, github.com/fatih/color

ERROR HANDLING:
  - Returns the first write error.

USAGE:
  output.RenderReport(os.Stdout, report, !cfg.NoColor)
*/

package output

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/fatih/color"
)

type palette struct {
	title, label, good, warn, bad, dim *color.Color
}

func newPalette(colored bool) palette {
	p := palette{
		title: color.New(color.FgCyan, color.Bold),
		label: color.New(color.Bold),
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed, color.Bold),
		dim:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.title, p.label, p.good, p.warn, p.bad, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// reportWriter keeps the first write error so rendering code stays linear.
type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

// unitSteps lists each throughput unit followed by its smaller steps of 1000.
var unitSteps = map[string][]string{
	"TFLOPS": {"TFLOPS", "GFLOPS", "MFLOPS"},
	"GB/s":   {"GB/s", "MB/s", "KB/s"},
}

// displayUnit picks the largest unit in which v reads at least 1 and returns
// the multiplier into it.
func displayUnit(v float64, unit string) (float64, string) {
	steps, ok := unitSteps[unit]
	if !ok || v == 0 {
		return 1, unit
	}
	mult := 1.0
	for i := 1; i < len(steps) && math.Abs(v*mult) < 1; i++ {
		mult *= 1000
		unit = steps[i]
	}
	return mult, unit
}

// RenderReport writes the run summary to w.
func RenderReport(w io.Writer, r model.HarnessReport, colored bool) error {
	p := newPalette(colored)
	rw := &reportWriter{w: w}
	rule := strings.Repeat("=", 60)

	rw.printf("%s\n", p.title.Sprint(rule))
	rw.printf("%s\n", p.title.Sprint("GPU STRESS TEST REPORT"))
	rw.printf("%s\n", p.title.Sprint(rule))
	rw.printf("%s %s (%s #%d)\n", p.label.Sprint("Device:"), r.Device.Name, r.Device.Backend, r.Device.Index)
	if r.Device.TotalMemory > 0 {
		rw.printf("%s %.2f GB\n", p.label.Sprint("Memory:"), float64(r.Device.TotalMemory)/1e9)
	}
	total := r.PerWorkloadDuration * time.Duration(len(r.Results))
	rw.printf("%s ~%d seconds (%d workloads x %s)\n",
		p.label.Sprint("Total Duration:"), int(total.Seconds()), len(r.Results), r.PerWorkloadDuration)
	if !r.Started.IsZero() && !r.Finished.IsZero() {
		rw.printf("%s %.1f seconds\n", p.label.Sprint("Wall Clock:"), r.Finished.Sub(r.Started).Seconds())
	}
	if r.Interrupted {
		rw.printf("%s\n", p.warn.Sprint("Run interrupted; results are partial."))
	}

	rw.printf("\n%s\n", p.title.Sprint("Workloads"))
	for _, res := range r.Results {
		rw.printf("  %s\n", p.label.Sprint(res.Name))
		switch res.Status {
		case model.StatusCompleted:
			if !res.HasData {
				rw.printf("    %s\n", p.warn.Sprint("no data"))
				continue
			}
			mult, unit := displayUnit(res.Average, res.Unit)
			rw.printf("    Average: %s\n", p.good.Sprintf("%.2f %s", res.Average*mult, unit))
			rw.printf("    Peak:    %s\n", p.good.Sprintf("%.2f %s", res.Peak*mult, unit))
			rw.printf("    Iterations: %d (%.2f it/s)\n", res.Iterations, res.IterationsPerSecond())
		case model.StatusUnsupported:
			rw.printf("    %s\n", p.warn.Sprintf("skipped (not supported: %s)", res.Note))
		case model.StatusFailed:
			rw.printf("    %s\n", p.bad.Sprintf("FAILED: %s", res.Error))
			if res.HasData {
				mult, unit := displayUnit(res.Average, res.Unit)
				rw.printf("    %s\n", p.dim.Sprintf("partial: avg %.2f / peak %.2f %s over %d iterations",
					res.Average*mult, res.Peak*mult, unit, res.Iterations))
			}
		case model.StatusAbsent:
			rw.printf("    %s\n", p.dim.Sprint("not run (interrupted)"))
		}
	}

	rw.printf("\n%s\n", p.title.Sprint("Device Telemetry"))
	if r.Telemetry != "" {
		rw.printf("  Source: %s\n", r.Telemetry)
	}
	if m := r.Monitor; m.HasData() {
		rw.printf("  Max Temperature: %.0f C\n", m.MaxTemperature)
		rw.printf("  Max Power Draw:  %.1f W\n", m.MaxPowerDraw)
		rw.printf("  Max Utilization: %.0f %%\n", m.MaxUtilization)
		if m.Skipped > 0 {
			rw.printf("  %s\n", p.dim.Sprintf("%d of %d samples unavailable", m.Skipped, m.Samples+m.Skipped))
		}
	} else {
		rw.printf("  %s\n", p.warn.Sprint("no data"))
	}

	rw.printf("\n%s\n", p.title.Sprint(rule))
	if r.Interrupted {
		rw.printf("%s\n", p.warn.Sprint("Stress test stopped early."))
	} else {
		rw.printf("%s\n", p.good.Sprint("Stress test complete."))
	}
	return rw.err
}
