package trustplane

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriteConfig configures trust-score export to a Prometheus
// remote-write endpoint, so score history can be charted alongside the rest
// of an organization's observability stack.
type RemoteWriteConfig struct {
	// URL is the remote-write endpoint, e.g. http://prometheus:9090/api/v1/write.
	URL string `yaml:"url"`
	// Timeout bounds each push. Default: 10s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// RemoteWriteExporter pushes trust-score samples over the Prometheus
// remote-write protocol (snappy-compressed protobuf).
type RemoteWriteExporter struct {
	config RemoteWriteConfig
	client *http.Client
}

// NewRemoteWriteExporter creates an exporter.
func NewRemoteWriteExporter(cfg RemoteWriteConfig) (*RemoteWriteExporter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote write: url required: %w", ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteWriteExporter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Export pushes one report as remote-write samples:
//
//	trustplane_trust_score{org="..."}
//	trustplane_framework_score{org="...",framework="..."}
//	trustplane_cluster_coverage{org="...",cluster="..."}
func (e *RemoteWriteExporter) Export(ctx context.Context, report *TrustScoreReport) error {
	ts := report.GeneratedAt.UnixMilli()

	series := []prompb.TimeSeries{{
		Labels: []prompb.Label{
			{Name: "__name__", Value: "trustplane_trust_score"},
			{Name: "org", Value: report.OrgID},
		},
		Samples: []prompb.Sample{{Value: report.OverallScore, Timestamp: ts}},
	}}

	frameworks := make([]string, 0, len(report.PerFramework))
	for fw := range report.PerFramework {
		frameworks = append(frameworks, fw)
	}
	sort.Strings(frameworks)
	for _, fw := range frameworks {
		series = append(series, prompb.TimeSeries{
			Labels: []prompb.Label{
				{Name: "__name__", Value: "trustplane_framework_score"},
				{Name: "framework", Value: fw},
				{Name: "org", Value: report.OrgID},
			},
			Samples: []prompb.Sample{{Value: report.PerFramework[fw], Timestamp: ts}},
		})
	}

	for _, cc := range report.PerCluster {
		series = append(series, prompb.TimeSeries{
			Labels: []prompb.Label{
				{Name: "__name__", Value: "trustplane_cluster_coverage"},
				{Name: "cluster", Value: fmt.Sprintf("%d", cc.ClusterID)},
				{Name: "org", Value: report.OrgID},
			},
			Samples: []prompb.Sample{{Value: cc.Coverage, Timestamp: ts}},
		})
	}

	req := prompb.WriteRequest{Timeseries: series}
	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("remote write: marshaling: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("remote write: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("remote write: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote write: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
