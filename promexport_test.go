package trustplane

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func TestRemoteWriteExporter_Export(t *testing.T) {
	var captured prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Encoding"); got != "snappy" {
			t.Errorf("expected snappy encoding, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-protobuf" {
			t.Errorf("expected protobuf content type, got %q", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading body: %v", err)
		}
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("decompressing body: %v", err)
		}
		if err := captured.Unmarshal(raw); err != nil {
			t.Errorf("unmarshaling write request: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exporter, err := NewRemoteWriteExporter(RemoteWriteConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewRemoteWriteExporter failed: %v", err)
	}

	report := &TrustScoreReport{
		OrgID:        "acme",
		GeneratedAt:  time.Now(),
		OverallScore: 87.5,
		PerFramework: map[string]float64{"ISO27001": 90, "SOC2": 85},
		PerCluster:   []ClusterCoverage{{ClusterID: 0, Coverage: 0.9, Evidence: 2}},
	}
	if err := exporter.Export(context.Background(), report); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Overall + 2 frameworks + 1 cluster.
	if len(captured.Timeseries) != 4 {
		t.Fatalf("expected 4 series, got %d", len(captured.Timeseries))
	}

	first := captured.Timeseries[0]
	if first.Labels[0].Value != "trustplane_trust_score" {
		t.Errorf("expected trust score series first, got %s", first.Labels[0].Value)
	}
	if first.Samples[0].Value != 87.5 {
		t.Errorf("expected sample 87.5, got %v", first.Samples[0].Value)
	}

	// Framework series are sorted by name for reproducible payloads.
	if got := captured.Timeseries[1].Labels[1].Value; got != "ISO27001" {
		t.Errorf("expected ISO27001 first, got %s", got)
	}
	if got := captured.Timeseries[2].Labels[1].Value; got != "SOC2" {
		t.Errorf("expected SOC2 second, got %s", got)
	}
}

func TestRemoteWriteExporter_EndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exporter, err := NewRemoteWriteExporter(RemoteWriteConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewRemoteWriteExporter failed: %v", err)
	}
	report := &TrustScoreReport{OrgID: "acme", GeneratedAt: time.Now()}
	if err := exporter.Export(context.Background(), report); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestNewRemoteWriteExporter_RequiresURL(t *testing.T) {
	if _, err := NewRemoteWriteExporter(RemoteWriteConfig{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
