// Package report renders finalized sessions as standalone HTML charts.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/potentiostat/internal/experiment"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

// Render writes the session's voltammogram and time-series charts as a single
// HTML page. smoothingWindow is the calibrated moving-average window for the
// smoothed current trace; values below 1 are clamped.
func Render(w io.Writer, s *experiment.Session, smoothingWindow int) error {
	readings := s.Readings()
	if len(readings) == 0 {
		return fmt.Errorf("session %s has no readings to render", s.ID)
	}

	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("%s %s", s.Technique, s.ID))
	page.AddCharts(
		voltammogram(s, readings),
		timeSeries(s, readings, smoothingWindow),
	)

	return page.Render(w)
}

// RenderFile renders the session charts to an HTML file at path.
func RenderFile(path string, s *experiment.Session, smoothingWindow int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := Render(f, s, smoothingWindow); err != nil {
		return err
	}
	return f.Close()
}

// voltammogram plots current against applied potential, the canonical CV
// presentation.
func voltammogram(s *experiment.Session, readings []voltammetry.Reading) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(readings))
	for _, r := range readings {
		data = append(data, opts.ScatterData{Value: []interface{}{r.AppliedVolts, r.CurrentUA, r.Cycle}})
	}

	maxCycle := 0
	for _, r := range readings {
		if r.Cycle > maxCycle {
			maxCycle = r.Cycle
		}
	}

	subtitle := fmt.Sprintf(
		"%g → %g V at %g V/s, %d cycle(s), %d samples, status=%s",
		s.Params.StartVolts, s.Params.EndVolts, s.Params.ScanRate,
		s.Params.Cycles, len(readings), s.Status,
	)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Voltammogram", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Voltammogram", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Applied potential (V)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Current (µA)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCycle),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("readings", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}

// timeSeries plots applied potential and measured current against elapsed
// time on twin axes, with a moving-average smoothed trace alongside the raw
// currents.
func timeSeries(s *experiment.Session, readings []voltammetry.Reading, smoothingWindow int) *charts.Line {
	x := make([]string, 0, len(readings))
	volts := make([]opts.LineData, 0, len(readings))
	currents := make([]opts.LineData, 0, len(readings))
	raw := make([]float64, 0, len(readings))
	for _, r := range readings {
		x = append(x, fmt.Sprintf("%.2f", r.ElapsedSeconds))
		volts = append(volts, opts.LineData{Value: r.AppliedVolts})
		currents = append(currents, opts.LineData{Value: r.CurrentUA})
		raw = append(raw, r.CurrentUA)
	}

	smoothed := make([]opts.LineData, 0, len(readings))
	for _, v := range voltammetry.MovingAverage(raw, smoothingWindow) {
		smoothed = append(smoothed, opts.LineData{Value: v})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Potential and Current vs Time",
			Subtitle: fmt.Sprintf("mean=%.3f µA σ=%.3f µA charge=%.3f µC", s.Summary.MeanCurrentUA, s.Summary.StdCurrentUA, s.Summary.ChargeUC),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Applied (V)"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Current (µA)", Type: "value"})

	line.SetXAxis(x).
		AddSeries("applied", volts).
		AddSeries("current", currents, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1})).
		AddSeries("current (smoothed)", smoothed, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, Smooth: opts.Bool(true)}))
	return line
}
