package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is implemented by connection pools and clients that can probe
// their backend with a round trip, such as *pgxpool.Pool and the Kafka
// publisher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a CheckFunc. Register it as a readiness
// check: a dead dependency should take the instance out of rotation, not
// restart it.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// GoroutineCountCheck returns a CheckFunc that fails when more than
// threshold goroutines are running. A count that keeps growing under steady
// traffic usually means a leak, such as a request handler blocked on a
// channel nobody closes, so it fits a liveness probe.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck returns a CheckFunc that fails when any recorded
// stop-the-world GC pause exceeded threshold. Long pauses point at memory
// pressure or an oversized heap. The runtime keeps only recent pauses, so
// the check recovers once collections are fast again.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, p := range stats.Pause {
			if p > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", p, threshold)
			}
		}
		return nil
	}
}
