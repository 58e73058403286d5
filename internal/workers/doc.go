/*
Package workers sizes and runs the gateway's conversion workers.

# Sizing

Go 1.19+ sets GOMAXPROCS from container CPU limits, while runtime.NumCPU still
reports host CPUs. Count sizes pools from GOMAXPROCS:

	workers.ForCPU(0)      // one per available CPU, for encoders like cwebp
	workers.Count(0.5, 4)  // half the CPUs, capped at 4

WEBP_WORKERS overrides the computed value (still subject to the limit).

# Pool

Pool runs keyed jobs with two guarantees:

  - at most one job per key runs at a time; callers arriving while it runs
    wait for and share its result
  - at most size jobs run concurrently across all keys

Jobs run detached from the caller's context, bounded by the pool timeout, so
a client that disconnects does not abort work that other waiters depend on.
A caller whose context ends stops waiting and gets the context error.

	pool := workers.NewPool(workers.ForCPU(0), time.Minute)
	shared, err := pool.Do(ctx, dstPath, func(ctx context.Context) error {
	    return conv.Convert(ctx, src, tmp)
	})
*/
package workers
