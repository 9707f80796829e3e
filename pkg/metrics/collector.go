// Package metrics bridges the gateway's expvar counters (pkg/stats) into
// Prometheus and serves both /metrics and /debug/vars over a small status
// HTTP listener.
//
// Since stats.Frontend/Backend/General live in this same process, Collect
// walks the expvar.Map values directly rather than scraping its own HTTP
// endpoint and reparsing JSON.
package metrics

import (
	"expvar"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts one or more expvar.Maps to the prometheus.Collector
// interface.
type Collector struct {
	maps      map[string]*expvar.Map
	names     map[string]string
	helps     map[string]string
	labelName map[string]string
}

// NewCollector builds a Collector for the gateway's three standard
// counters and registers it with prometheus's default registry.
func NewCollector(frontend, backend, general *expvar.Map) *Collector {
	c := &Collector{
		maps: map[string]*expvar.Map{
			"proxy_frontend": frontend,
			"proxy_backend":  backend,
			"proxy":          general,
		},
		names: map[string]string{
			"proxy":          "xchangeldap_proxy",
			"proxy_frontend": "xchangeldap_proxy_frontend",
			"proxy_backend":  "xchangeldap_proxy_backend",
		},
		helps: map[string]string{
			"proxy":          "General gateway metrics",
			"proxy_frontend": "Frontend (LDAP listener) metrics",
			"proxy_backend":  "Backend (Exchange session) metrics",
		},
		labelName: map[string]string{
			"proxy":          "metric",
			"proxy_frontend": "metric",
			"proxy_backend":  "metric",
		},
	}
	prometheus.MustRegister(c)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for key, m := range c.maps {
		if m == nil {
			continue
		}
		name := strings.ReplaceAll(key, "/", "_")
		if n, ok := c.names[key]; ok {
			name = n
		}
		help := fmt.Sprintf("expvar %q", key)
		if h, ok := c.helps[key]; ok {
			help = h
		}
		lnames := []string{}
		if ln, ok := c.labelName[key]; ok {
			lnames = append(lnames, ln)
		}
		desc := prometheus.NewDesc(name, help, lnames, nil)

		m.Do(func(kv expvar.KeyValue) {
			v, ok := kv.Value.(*expvar.Int)
			if !ok {
				return
			}
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v.Value()), kv.Key)
		})
	}
}
