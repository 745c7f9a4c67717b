package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
)

var (
	ContainersCreated   = stats.Int64("ironframe/containers_created", "Number of containers created", stats.UnitDimensionless)
	ContainersDestroyed = stats.Int64("ironframe/containers_destroyed", "Number of containers destroyed", stats.UnitDimensionless)
	MemoryLimitReached  = stats.Int64("ironframe/memory_limit_reached", "Number of times a container reached its memory limit", stats.UnitDimensionless)
	RPCLatency          = stats.Float64("ironframe/rpc_latency_ms", "Latency of container host calls", stats.UnitMilliseconds)

	KeyMethod = tag.MustNewKey("method")
)

var Views = []*view.View{
	{
		Name:        "ironframe/containers_created",
		Measure:     ContainersCreated,
		Description: ContainersCreated.Description(),
		Aggregation: view.Count(),
	},
	{
		Name:        "ironframe/containers_destroyed",
		Measure:     ContainersDestroyed,
		Description: ContainersDestroyed.Description(),
		Aggregation: view.Count(),
	},
	{
		Name:        "ironframe/memory_limit_reached",
		Measure:     MemoryLimitReached,
		Description: MemoryLimitReached.Description(),
		Aggregation: view.Count(),
	},
	{
		Name:        "ironframe/rpc_latency_ms",
		Measure:     RPCLatency,
		Description: RPCLatency.Description(),
		TagKeys:     []tag.Key{KeyMethod},
		Aggregation: view.Distribution(1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000),
	},
}

func RegisterViews() error {
	return view.Register(Views...)
}

func UnregisterViews() {
	view.Unregister(Views...)
}

func RecordContainerCreated(ctx context.Context) {
	stats.Record(ctx, ContainersCreated.M(1))
}

func RecordContainerDestroyed(ctx context.Context) {
	stats.Record(ctx, ContainersDestroyed.M(1))
}

func RecordMemoryLimitReached(ctx context.Context) {
	stats.Record(ctx, MemoryLimitReached.M(1))
}

func RecordRPC(ctx context.Context, method string, elapsed time.Duration) {
	_ = stats.RecordWithTags(
		ctx,
		[]tag.Mutator{tag.Upsert(KeyMethod, method)},
		RPCLatency.M(float64(elapsed)/float64(time.Millisecond)),
	)
}

// SetSpanStatus marks the span failed when err is non-nil.
func SetSpanStatus(span *trace.Span, err error) {
	if err == nil {
		return
	}

	span.SetStatus(trace.Status{
		Code:    trace.StatusCodeUnknown,
		Message: err.Error(),
	})
}
