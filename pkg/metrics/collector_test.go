package metrics

import (
	"expvar"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorEmitsExpvarCounters(t *testing.T) {
	frontend := expvar.NewMap("test_proxy_frontend_" + t.Name())
	frontend.Add("bind_reqs", 3)

	c := &Collector{
		maps:      map[string]*expvar.Map{"proxy_frontend": frontend},
		names:     map[string]string{"proxy_frontend": "test_frontend"},
		helps:     map[string]string{"proxy_frontend": "test"},
		labelName: map[string]string{"proxy_frontend": "metric"},
	}

	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	if count != 1 {
		t.Fatalf("got %d metrics, want 1", count)
	}
}
