/*Package dashboard renders collected experiment data as standalone HTML.

One page per experiment: temperature against elapsed time with the
commanded setpoint overlaid, |S11| against frequency for a temperature
ordered subset of the sweeps, and the per-sweep resonance summary
against temperature.  An index page links the pages together.  The
charts are echarts, embedded by go-echarts, so the output needs nothing
but a browser.
*/
package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"

	"github.com/phaselab/thermosweep/datalog"
	"github.com/phaselab/thermosweep/sparam"
)

// maxTraces bounds how many sweeps are drawn on the |S11| chart, more
// than this reads as noise
const maxTraces = 8

const chartWidth = "1100px"

// Render writes one experiment's dashboard page to w.
func Render(data *datalog.ExperimentData, w io.Writer) error {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		temperatureChart(data),
		sweepChart(data),
		resonanceChart(data),
		depthChart(data),
	)
	return errors.Wrap(page.Render(w), "dashboard: page render failed")
}

// RenderFile writes one experiment's dashboard page to path.
func RenderFile(data *datalog.ExperimentData, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "dashboard: could not create page")
	}
	if err := Render(data, f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "dashboard: could not close page")
}

// WriteAll renders a page per experiment plus the index into outDir,
// creating it if needed.
func WriteAll(all []*datalog.ExperimentData, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrap(err, "dashboard: could not create output directory")
	}
	for _, data := range all {
		path := filepath.Join(outDir, data.Name()+".html")
		if err := RenderFile(data, path); err != nil {
			return err
		}
	}
	f, err := os.Create(filepath.Join(outDir, "index.html"))
	if err != nil {
		return errors.Wrap(err, "dashboard: could not create index")
	}
	if err := RenderIndex(all, f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "dashboard: could not close index")
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>thermosweep experiments</title></head>
<body>
<h1>Experiments</h1>
<table border="1" cellpadding="4">
<tr><th>Experiment</th><th>Mode</th><th>Targets (C)</th><th>Sweeps</th><th>Completed</th></tr>
{{- range .}}
<tr><td><a href="{{.Name}}.html">{{.Name}}</a></td><td>{{.Meta.RampMode}}</td><td>{{.Meta.Targets}}</td><td>{{.Meta.TotalSweeps}}</td><td>{{.Meta.Completed}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

// RenderIndex writes the experiment index page to w.
func RenderIndex(all []*datalog.ExperimentData, w io.Writer) error {
	return errors.Wrap(indexTmpl.Execute(w, all), "dashboard: index render failed")
}

func temperatureChart(data *datalog.ExperimentData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: "450px"}),
		charts.WithTitleOpts(opts.Title{Title: "Temperature", Subtitle: data.Name()}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed s"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg C"}),
	)
	n := len(data.Rows)
	x := make([]string, n)
	setp := make([]opts.LineData, n)
	prim := make([]opts.LineData, n)
	sec := make([]opts.LineData, n)
	for i, r := range data.Rows {
		x[i] = strconv.FormatFloat(r.Elapsed, 'f', 0, 64)
		setp[i] = opts.LineData{Value: r.Setpoint}
		prim[i] = opts.LineData{Value: r.Primary}
		sec[i] = opts.LineData{Value: r.Secondary}
	}
	line.SetXAxis(x).
		AddSeries("setpoint", setp).
		AddSeries("sensor 1", prim).
		AddSeries("sensor 2", sec)
	return line
}

func sweepChart(data *datalog.ExperimentData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: "450px"}),
		charts.WithTitleOpts(opts.Title{Title: "|S11|", Subtitle: "one trace per temperature"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "GHz"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "dB"}),
	)
	sel := selectSweeps(data.Sweeps, maxTraces)
	if len(sel) == 0 {
		return line
	}
	x := make([]string, sel[0].Len())
	for i, f := range sel[0].Freq {
		x[i] = strconv.FormatFloat(f/1e9, 'f', 4, 64)
	}
	line.SetXAxis(x)
	for _, rec := range sel {
		db := rec.MagnitudeDB()
		pts := make([]opts.LineData, len(db))
		for i, v := range db {
			pts[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("%.1f C", rec.Temperature), pts)
	}
	return line
}

func resonanceChart(data *datalog.ExperimentData) *charts.Scatter {
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Resonant frequency", Subtitle: "minimum |S11| per sweep"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "deg C"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "GHz"}),
	)
	x, summaries := summariesByTemperature(data.Sweeps)
	pts := make([]opts.ScatterData, len(summaries))
	for i, s := range summaries {
		pts[i] = opts.ScatterData{Value: s.ResonantHz / 1e9}
	}
	sc.SetXAxis(x).AddSeries("resonance", pts)
	return sc
}

func depthChart(data *datalog.ExperimentData) *charts.Scatter {
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Resonance depth"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "deg C"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "min |S11| dB"}),
	)
	x, summaries := summariesByTemperature(data.Sweeps)
	pts := make([]opts.ScatterData, len(summaries))
	for i, s := range summaries {
		pts[i] = opts.ScatterData{Value: s.MinDB}
	}
	sc.SetXAxis(x).AddSeries("depth", pts)
	return sc
}

// selectSweeps picks up to n sweeps spread evenly across the
// temperature range, endpoints included.
func selectSweeps(sweeps []sparam.Record, n int) []sparam.Record {
	sorted := validByTemperature(sweeps)
	if len(sorted) == 0 {
		return nil
	}
	if len(sorted) <= n {
		return sorted
	}
	out := make([]sparam.Record, 0, n)
	stride := float64(len(sorted)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, sorted[int(math.Round(float64(i)*stride))])
	}
	return out
}

func summariesByTemperature(sweeps []sparam.Record) ([]string, []sparam.Summary) {
	sorted := validByTemperature(sweeps)
	x := make([]string, len(sorted))
	out := make([]sparam.Summary, len(sorted))
	for i, rec := range sorted {
		x[i] = strconv.FormatFloat(rec.Temperature, 'f', 2, 64)
		out[i] = rec.Summarize()
	}
	return x, out
}

// validByTemperature drops ragged or empty records and sorts the rest
// by their annotation temperature.
func validByTemperature(sweeps []sparam.Record) []sparam.Record {
	sorted := make([]sparam.Record, 0, len(sweeps))
	for _, rec := range sweeps {
		if rec.Validate() == nil {
			sorted = append(sorted, rec)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Temperature < sorted[j].Temperature
	})
	return sorted
}
