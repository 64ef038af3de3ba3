package monitor

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// chartSpec describes one of the four per-pair charts.
type chartSpec struct {
	title  string
	xName  string
	yName  string
	series []namedSeries
	// xLabel formats an index for the x axis.
	xLabel func(int) string
	// xValue maps an index to a numeric x; nil uses the index itself.
	xValue func(int) float64
}

type namedSeries struct {
	name string
	data ranging.Series
}

// pairCharts returns the impulse response, MUSIC spectrum, phase trend and
// RSSI chart specs for e.
func pairCharts(e *Entry, cfg ranging.Config) []chartSpec {
	channel := func(k int) string { return strconv.Itoa(k) }
	delayNs := func(k int) float64 {
		return float64(k) / float64(cfg.SpectrumPoints) / cfg.ChannelSpacingHz * 1e9
	}
	binDelay := func(k int) string { return strconv.FormatFloat(delayNs(k), 'f', 1, 64) }
	return []chartSpec{
		{
			title:  "Impulse Response",
			xName:  "Bin",
			yName:  "Magnitude",
			series: []namedSeries{{"impulse response", e.Result.ImpulseResponse}},
			xLabel: channel,
		},
		{
			title:  "MUSIC Spectrum",
			xName:  "Delay (ns)",
			yName:  "Normalised power",
			series: []namedSeries{{"spectrum", e.Result.Spectrum}},
			xLabel: binDelay,
			xValue: delayNs,
		},
		{
			title:  "Phase Trend",
			xName:  "Channel",
			yName:  "Unwrapped phase (rad)",
			series: []namedSeries{{"phase", e.Result.PhaseTrend}},
			xLabel: channel,
		},
		{
			title: "RSSI",
			xName: "Channel",
			yName: "Tone magnitude",
			series: []namedSeries{
				{"initiator", e.Result.InitiatorRSSI},
				{"reflector", e.Result.ReflectorRSSI},
			},
			xLabel: channel,
		},
	}
}

// lineChart builds an echarts line chart. The x axis is the sorted union of
// the series keys; a series without a value at an index leaves a gap.
func lineChart(spec chartSpec) *charts.Line {
	var xs []int
	for _, s := range spec.series {
		for k := range s.data {
			xs = append(xs, k)
		}
	}
	slices.Sort(xs)
	xs = slices.Compact(xs)

	labels := make([]string, len(xs))
	for i, k := range xs {
		labels[i] = spec.xLabel(k)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: spec.title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(len(spec.series) > 1)}),
		charts.WithXAxisOpts(opts.XAxis{Name: spec.xName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: spec.yName}),
	)
	line.SetXAxis(labels)
	for _, s := range spec.series {
		data := make([]opts.LineData, len(xs))
		for i, k := range xs {
			if v, ok := s.data[k]; ok {
				data[i] = opts.LineData{Value: v}
			} else {
				data[i] = opts.LineData{Value: "-"}
			}
		}
		line.AddSeries(s.name, data)
	}
	return line
}

// renderPairPage writes the four charts for e as one HTML page.
func renderPairPage(w io.Writer, e *Entry, cfg ranging.Config) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("CS procedure %d", e.Counter)
	for _, spec := range pairCharts(e, cfg) {
		page.AddCharts(lineChart(spec))
	}
	return page.Render(w)
}
