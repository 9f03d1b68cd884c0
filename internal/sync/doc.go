// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

/*
Package sync orchestrates incremental synchronization of machine status
periods from the telemetry API into the database.

Each configured machine owns a watermark: the end timestamp of the newest
period merged so far. A sync cycle fetches everything between the watermark
and now in bounded time windows, derives reporting fields, deduplicates
against the batch and the store, bulk-inserts the survivors, and only then
advances the watermark. A failed cycle leaves the watermark untouched, so the
next cycle re-fetches the same range and the dedup step keeps the result
correct.

Key Components:

  - Manager: per-machine state machine (IDLE -> FETCHING -> MERGING -> IDLE)
    with a bounded worker pool across machines, an interval loop, manual
    trigger, and a status snapshot for the API
  - Fetcher: walks backward from now to the watermark in fixed-size windows,
    skipping failed windows instead of aborting the cycle
  - Merger: derivation + two-level dedup + transactional batch insert +
    watermark advance + completion notifications
  - Deriver: shift, day-of-week, duration, and utilisation category rules
  - StatusTracker: detects classification transitions between cycles and
    raises machine status events

Sync Cycle:

 1. Replay: when the dead letter store is enabled, retry this machine's
    parked fetch windows first (bounded attempts)
 2. Fetch: from watermark+1s (or the initial lookback when the machine has
    never synced) up to now, one bounded window at a time, newest window
    first; a rate limiter spaces the requests
 3. Merge: derive fields, drop off-shift rows, dedup in-batch and against
    storage, insert the rest in one transaction
 4. Advance: move the watermark to the max end timestamp of the fetched
    batch, only when at least one new row was stored
 5. Notify: hand machine status and dashboard refresh events to the bridge

Failure Semantics:

  - A window fetch failure is logged, parked in the dead letter store when
    enabled, and skipped; the rest of the cycle continues
  - A merge (database) failure fails the machine's cycle; the watermark does
    not move and the next cycle re-fetches
  - One machine's failure never blocks another machine's cycle
  - FAILED is never terminal: the machine is retried on the next cycle

Thread Safety:

  - A per-machine mutex serializes cycles for the same machine ID, which is
    what keeps watermark advancement monotonic under concurrent triggers
  - The worker pool bounds cross-machine parallelism (SYNC_PARALLELISM)
  - Manager state snapshots are guarded by an RWMutex

See Also:

  - internal/telemetry: HTTP client with circuit breaker and 429 backoff
  - internal/store: DuckDB persistence and watermark storage
  - internal/deadletter: parked fetch windows awaiting replay
  - internal/notify: event vocabulary and the sync-to-broadcast bridge
*/
package sync
