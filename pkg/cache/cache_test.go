package cache

import "testing"

func TestMetrics_HitRate(t *testing.T) {
	tests := []struct {
		name string
		m    Metrics
		want float64
	}{
		{name: "empty", m: Metrics{}, want: 0},
		{name: "all hits", m: Metrics{Hits: 4}, want: 1},
		{name: "mixed", m: Metrics{Hits: 3, Misses: 1}, want: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.HitRate(); got != tt.want {
				t.Errorf("HitRate() = %v, want %v", got, tt.want)
			}
		})
	}
}
