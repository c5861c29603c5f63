package dashboard

import (
	"fmt"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ponytojas/go-iot-dashboard/internal/models"
)

// Canvas names a render target on the dashboard page
type Canvas string

const (
	VelocityCanvas  Canvas = "velocityChart"
	FrequencyCanvas Canvas = "frequencyChart"
)

// LabelLayout formats reading timestamps for the x axis
const LabelLayout = "1/2/2006, 3:04:05 PM"

type chartSpec struct {
	canvas      Canvas
	name        string
	color       string
	defaultUnit string
	value       func(models.Reading) models.Number
	unit        func(models.Reading) string
}

var chartSpecs = []chartSpec{
	{
		canvas:      VelocityCanvas,
		name:        "Velocity",
		color:       "blue",
		defaultUnit: models.DefaultVelocityUnit,
		value:       func(r models.Reading) models.Number { return r.VelocityValue },
		unit:        func(r models.Reading) string { return r.VelocityUnit },
	},
	{
		canvas:      FrequencyCanvas,
		name:        "Frequency",
		color:       "green",
		defaultUnit: models.DefaultFrequencyUnit,
		value:       func(r models.Reading) models.Number { return r.FrequencyValue },
		unit:        func(r models.Reading) string { return r.FrequencyUnit },
	},
}

// Series is the data behind one chart
type Series struct {
	Labels []string
	Values []float64
	Unit   string
}

// buildLabels converts epoch-second timestamps to local display strings
func buildLabels(readings []models.Reading, loc *time.Location) []string {
	labels := make([]string, len(readings))
	for i, r := range readings {
		if !r.Timestamp.Valid() {
			labels[i] = "Invalid Date"
			continue
		}
		labels[i] = r.Time().In(loc).Format(LabelLayout)
	}
	return labels
}

func (s chartSpec) series(readings []models.Reading, labels []string) Series {
	values := make([]float64, len(readings))
	unit := ""
	for i, r := range readings {
		values[i] = s.value(r).Float64()
		if unit == "" {
			unit = s.unit(r)
		}
	}
	if unit == "" {
		unit = s.defaultUnit
	}
	return Series{Labels: labels, Values: values, Unit: unit}
}

// Chart is the live widget drawn on one canvas
type Chart struct {
	Canvas Canvas
	Title  string
	Series Series

	line      *charts.Line
	destroyed bool
}

// Live reports whether the chart has not been destroyed
func (c *Chart) Live() bool {
	return c != nil && !c.destroyed
}

// Destroy releases the chart; it must not be rendered afterwards
func (c *Chart) Destroy() {
	if c == nil {
		return
	}
	c.destroyed = true
	c.line = nil
}

// Line returns the underlying echarts line chart, nil once destroyed
func (c *Chart) Line() *charts.Line {
	return c.line
}

func newChart(def chartSpec, s Series) *Chart {
	title := fmt.Sprintf("%s (%s)", def.name, s.Unit)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: string(def.canvas),
			Width:   "100%",
			Height:  "400px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "category",
			AxisLabel: &opts.AxisLabel{
				Rotate: 45,
			},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: s.Unit,
			Type: "value",
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:  "slider",
			Start: 0,
			End:   100,
		}),
	)

	data := make([]opts.LineData, len(s.Values))
	for i, v := range s.Values {
		if math.IsNaN(v) {
			// echarts draws "-" as a gap
			data[i] = opts.LineData{Value: "-"}
			continue
		}
		data[i] = opts.LineData{Value: v}
	}

	line.SetXAxis(s.Labels).
		AddSeries(title, data,
			charts.WithLineStyleOpts(opts.LineStyle{Color: def.color}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: def.color}),
		)

	return &Chart{
		Canvas: def.canvas,
		Title:  title,
		Series: s,
		line:   line,
	}
}
