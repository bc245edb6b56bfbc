package metrics

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// apiRecorder is implemented by both the Collector and the PrometheusExporter
type apiRecorder interface {
	RecordRequest(method string)
	RecordDuration(method string, durationSeconds float64)
	RecordError(method string)
}

// UnaryServerInterceptor returns a gRPC interceptor that records metrics for each request.
// exporter may be nil.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	sinks := []apiRecorder{collector}
	if exporter != nil {
		sinks = append(sinks, exporter)
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		method := info.FullMethod

		for _, s := range sinks {
			s.RecordRequest(method)
		}

		resp, err := handler(ctx, req)

		duration := time.Since(start).Seconds()
		for _, s := range sinks {
			s.RecordDuration(method, duration)
			if err != nil {
				s.RecordError(method)
			}
		}

		return resp, err
	}
}
