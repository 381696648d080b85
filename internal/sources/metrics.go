package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/dagsentry/dagsentry/internal/telemetry"
)

const scrapeTimeout = 10 * time.Second

// Counter families emitted by a statsd-exporter in front of Airflow. With a
// mapping config the dag appears as a dag_id label; without one the exporter
// flattens it into the metric name as a suffix.
const (
	successFamily = "airflow_dagrun_success"
	failedFamily  = "airflow_dagrun_failed"
)

// MetricsClient scrapes one statsd-exporter endpoint for pre-aggregated run
// counters. The HTTP client is built once and reused across passes.
type MetricsClient struct {
	endpoint string
	hc       *http.Client
}

// NewMetricsClient builds a client for the given Prometheus exposition
// endpoint.
func NewMetricsClient(endpoint string) *MetricsClient {
	return &MetricsClient{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: scrapeTimeout},
	}
}

// FetchCounts scrapes the endpoint and folds the Airflow dag-run counters
// into per-entity run counts. Entities appearing in only one of the two
// families still get an entry.
func (c *MetricsClient) FetchCounts(ctx context.Context) (map[string]telemetry.RunCounts, error) {
	mfs, err := c.fetchFamilies(ctx)
	if err != nil {
		return nil, fmt.Errorf("sources: scrape %q: %w", c.endpoint, err)
	}

	counts := make(map[string]telemetry.RunCounts)
	addFamily(counts, mfs, successFamily, func(rc *telemetry.RunCounts, v float64) {
		rc.Success += int(v)
	})
	addFamily(counts, mfs, failedFamily, func(rc *telemetry.RunCounts, v float64) {
		rc.Failed += int(v)
	})
	return counts, nil
}

// addFamily extracts per-entity values for one counter family, handling both
// the labelled and the name-suffix exporter forms.
func addFamily(counts map[string]telemetry.RunCounts, mfs map[string]*dto.MetricFamily,
	family string, add func(*telemetry.RunCounts, float64)) {

	if mf, ok := mfs[family]; ok {
		for _, m := range mf.GetMetric() {
			id := labelValue(m, "dag_id")
			if id == "" {
				continue
			}
			rc := counts[id]
			add(&rc, counterValue(m))
			counts[id] = rc
		}
		return
	}

	prefix := family + "_"
	for name, mf := range mfs {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id := strings.TrimPrefix(name, prefix)
		rc := counts[id]
		add(&rc, sumFamily(mf))
		counts[id] = rc
	}
}

// fetchFamilies performs an HTTP GET and returns parsed metric families.
func (c *MetricsClient) fetchFamilies(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseFamilies(resp.Body)
}

// parseFamilies decodes a Prometheus text exposition. A partial result with a
// non-fatal parse warning is still returned successfully.
func parseFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func counterValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

// sumFamily adds up all values in a family, used for the name-suffix form
// where each dag gets its own single-metric family.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		total += counterValue(m)
	}
	return total
}
