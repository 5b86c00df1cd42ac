// Package obsync provides a framework-agnostic data synchronization and
// cache-coordination layer: a TTL cache, a deduplicating query coordinator,
// an optimistic mutation coordinator with guaranteed rollback, a
// pattern-based invalidation engine and a background sync queue behind a
// single client handle.
//
// # Overview
//
// obsync sits between application code and a remote source of truth. Reads
// go through Query, which serves fresh cached values without network I/O,
// collapses concurrent fetches for the same key into one, and degrades to
// serving stale data alongside the error when the remote is unreachable.
// Writes go through mutations, which can make their result visible locally
// before the remote confirms it and are guaranteed to roll back to the
// exact prior state on failure.
//
// # Key Features
//
//   - Thread-safe TTL cache with lazy staleness and stale-serving fallback
//   - Request deduplication: N concurrent reads of a key cost one fetch
//   - Optimistic mutations with version-checked rollback
//   - Pattern-based invalidation over colon-separated key segments
//   - Offline mutation queue with bounded retry and per-group FIFO replay
//   - Key/pattern subscriptions for entry transition events
//   - In-memory or Redis-backed storage
//   - Prometheus and OpenTelemetry integration
//
// # Basic Usage
//
// Create a client and run queries against it:
//
//	client, err := obsync.New(obsync.NewDefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res := client.Query(ctx, "user:123", func(ctx context.Context) (any, error) {
//	    return fetchUser(ctx, 123)
//	}, &obsync.QueryOptions{TTL: time.Minute})
//	if res.Err != nil && !res.Stale {
//	    return res.Err
//	}
//	user := res.Value.(*User)
//
// # Mutations
//
// An optimistic mutation makes its result visible immediately, then settles
// with the remote:
//
//	mut := client.NewMutation(sendMessage, obsync.MutationOptions{
//	    Type: "message.send",
//	    Optimistic: &obsync.OptimisticUpdate{
//	        Key: "chat:1:messages",
//	        Apply: func(current, vars any) any {
//	            return append(current.([]Message), vars.(Message))
//	        },
//	    },
//	    InvalidatePatterns: []string{"chat:1:summary"},
//	})
//	result, err := mut.Execute(ctx, msg)
//
// While the client is offline (SetOnline(false)), Execute returns ErrQueued
// and the mutation settles through the sync queue once connectivity
// returns.
//
// # Invalidation
//
// Keys are colon-separated segments; a "*" segment matches one or more
// segments:
//
//	client.Invalidate("chat:1:messages:*")
//
// Subscribers registered via Subscribe receive Created, Updated and
// Invalidated events for matching keys.
package obsync
