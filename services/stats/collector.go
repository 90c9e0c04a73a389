package stats

import (
	"sort"
	"strings"
	"unicode"

	"github.com/epochflow/epochflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/serenize/snaker"
)

const namespace = "epochflow"

// Collector exports the internal statistics as Prometheus gauges.
// Every numeric value of a statistics map becomes the gauge
// epochflow_<name>_<key> labelled with the map's tags.
type Collector struct {
	// StatsDataF returns the statistics to export.
	StatsDataF func() ([]epochflow.StatsData, error)

	errors prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		StatsDataF: epochflow.GetStatsData,
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_errors_total",
			Help:      "Number of failed statistics collections.",
		}),
	}
}

// Describe sends no descriptors, the exported gauges depend on the running pipeline.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	defer c.errors.Collect(ch)
	data, err := c.StatsDataF()
	if err != nil {
		c.errors.Inc()
		return
	}
	for _, d := range data {
		labels := make([]string, 0, len(d.Tags))
		for k := range d.Tags {
			labels = append(labels, k)
		}
		sort.Strings(labels)
		values := make([]string, len(labels))
		for i, k := range labels {
			values[i] = d.Tags[k]
		}
		promLabels := make([]string, len(labels))
		for i, k := range labels {
			promLabels[i] = sanitize(k)
		}

		for key, v := range d.Values {
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			subsystem := sanitize(d.Name)
			if subsystem == namespace {
				subsystem = ""
			}
			desc := prometheus.NewDesc(
				prometheus.BuildFQName(namespace, subsystem, sanitize(key)),
				d.Name+" "+key,
				promLabels,
				nil,
			)
			m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, f, values...)
			if err != nil {
				c.errors.Inc()
				continue
			}
			ch <- m
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// sanitize converts CamelCase names to snake_case and replaces every
// character not valid in a Prometheus name with an underscore.
func sanitize(s string) string {
	if strings.IndexFunc(s, unicode.IsUpper) >= 0 {
		s = snaker.CamelToSnake(s)
	}
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsDigit(r) || ('a' <= r && r <= 'z') {
			return r
		}
		return '_'
	}, s)
}
