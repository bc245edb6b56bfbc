package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// newTestExporter registers with a private registry so tests never collide
// on metric names.
func newTestExporter(collector *Collector) *PrometheusExporter {
	return NewPrometheusExporterWith(collector, prometheus.NewRegistry())
}

func TestUnaryServerInterceptor_RecordsRequest(t *testing.T) {
	collector := NewCollector()

	interceptor := UnaryServerInterceptor(collector, nil)

	// Create mock handler that succeeds
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/Decide",
	}

	// Call interceptor
	_, err := interceptor(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Check that request was recorded
	apiMetrics := collector.GetAPIMetrics()
	if count, ok := apiMetrics.RequestCounts["/restree.v1.ResourceTreeService/Decide"]; !ok || count != 1 {
		t.Errorf("expected request count 1 for /restree.v1.ResourceTreeService/Decide, got %d", count)
	}
}

func TestUnaryServerInterceptor_RecordsDuration(t *testing.T) {
	collector := NewCollector()

	interceptor := UnaryServerInterceptor(collector, nil)

	// Create mock handler that succeeds
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/EffectiveACL",
	}

	// Call interceptor
	_, err := interceptor(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Check that duration was recorded (should be > 0)
	apiMetrics := collector.GetAPIMetrics()
	if _, ok := apiMetrics.TotalDurationSeconds["/restree.v1.ResourceTreeService/EffectiveACL"]; !ok {
		t.Error("expected duration to be recorded for /restree.v1.ResourceTreeService/EffectiveACL")
	}
}

func TestUnaryServerInterceptor_RecordsError(t *testing.T) {
	collector := NewCollector()

	interceptor := UnaryServerInterceptor(collector, nil)

	// Create mock handler that returns an error
	expectedErr := errors.New("test error")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, expectedErr
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/Allow",
	}

	// Call interceptor
	_, err := interceptor(context.Background(), "request", info, handler)
	if err != expectedErr {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}

	// Check that error was recorded
	apiMetrics := collector.GetAPIMetrics()
	if count, ok := apiMetrics.ErrorCounts["/restree.v1.ResourceTreeService/Allow"]; !ok || count != 1 {
		t.Errorf("expected error count 1 for /restree.v1.ResourceTreeService/Allow, got %d", count)
	}
}

func TestUnaryServerInterceptor_NoErrorNotRecorded(t *testing.T) {
	collector := NewCollector()

	interceptor := UnaryServerInterceptor(collector, nil)

	// Create mock handler that succeeds
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/NodeACL",
	}

	// Call interceptor
	_, err := interceptor(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Check that no error was recorded
	apiMetrics := collector.GetAPIMetrics()
	if count, ok := apiMetrics.ErrorCounts["/restree.v1.ResourceTreeService/NodeACL"]; ok && count > 0 {
		t.Errorf("expected no error count for /restree.v1.ResourceTreeService/NodeACL, got %d", count)
	}
}

func TestUnaryServerInterceptor_NilExporter(t *testing.T) {
	collector := NewCollector()

	// Create interceptor with nil exporter
	interceptor := UnaryServerInterceptor(collector, nil)

	// Create mock handler that succeeds
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/GetChild",
	}

	// Call interceptor - should not panic with nil exporter
	_, err := interceptor(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Collector should still record
	apiMetrics := collector.GetAPIMetrics()
	if count, ok := apiMetrics.RequestCounts["/restree.v1.ResourceTreeService/GetChild"]; !ok || count != 1 {
		t.Errorf("expected request count 1, got %d", count)
	}
}

func TestUnaryServerInterceptor_MultipleRequests(t *testing.T) {
	collector := NewCollector()

	interceptor := UnaryServerInterceptor(collector, nil)

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/CreateRoot",
	}

	// Call interceptor multiple times
	for i := 0; i < 5; i++ {
		_, err := interceptor(context.Background(), "request", info, handler)
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}

	// Check that all requests were recorded
	apiMetrics := collector.GetAPIMetrics()
	if count, ok := apiMetrics.RequestCounts["/restree.v1.ResourceTreeService/CreateRoot"]; !ok || count != 5 {
		t.Errorf("expected request count 5, got %d", count)
	}
}

func TestUnaryServerInterceptor_WithPrometheusExporter(t *testing.T) {
	collector := NewCollector()
	exporter := newTestExporter(collector)

	interceptor := UnaryServerInterceptor(collector, exporter)

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	info := &grpc.UnaryServerInfo{
		FullMethod: "/restree.v1.ResourceTreeService/Deny",
	}

	// Call interceptor
	_, err := interceptor(context.Background(), "request", info, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify collector recorded the request
	apiMetrics := collector.GetAPIMetrics()
	if count, ok := apiMetrics.RequestCounts["/restree.v1.ResourceTreeService/Deny"]; !ok || count != 1 {
		t.Errorf("expected request count 1, got %d", count)
	}
}
