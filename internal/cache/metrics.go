package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments are resolved from the global meter provider, so they are no-ops
// until telemetry is initialized.
type instruments struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	sets      metric.Int64Counter
	evictions metric.Int64Counter
	errors    metric.Int64Counter
	attrs     metric.MeasurementOption
}

func newInstruments(backend string) instruments {
	meter := otel.Meter("listing-inspector/cache")
	hits, _ := meter.Int64Counter("listing_cache_hits_total")
	misses, _ := meter.Int64Counter("listing_cache_misses_total")
	sets, _ := meter.Int64Counter("listing_cache_sets_total")
	evictions, _ := meter.Int64Counter("listing_cache_evictions_total")
	errs, _ := meter.Int64Counter("listing_cache_backend_errors_total")
	return instruments{
		hits:      hits,
		misses:    misses,
		sets:      sets,
		evictions: evictions,
		errors:    errs,
		attrs:     metric.WithAttributes(attribute.String("backend", backend)),
	}
}

func (i instruments) add(c metric.Int64Counter, n int) {
	if c == nil || n == 0 {
		return
	}
	c.Add(context.Background(), int64(n), i.attrs)
}
