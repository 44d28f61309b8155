package shellcache

import (
	"net/http"
	"strconv"
	"time"

	cachestatus "github.com/celesys/shell-cache/pkg/cache-status"
	serializer "github.com/celesys/shell-cache/pkg/response-serializer"
)

const (
	strategyPassthrough = "passthrough"
	strategyNetFirst    = "network-first"
	strategySWR         = "stale-while-revalidate"

	outcomeHit      = "hit"
	outcomeMiss     = "miss"
	outcomeFallback = "fallback"
	outcomeError    = "error"
	outcomeForward  = "forward"
)

// networkFirst serves navigation requests: the origin response wins when the
// origin is reachable (and refreshes the cache on the way out), otherwise the
// cached entry for this exact request is served, otherwise the cached shell
// root, otherwise the failure is surfaced to the client.
func (e *Engine) networkFirst(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)

	res, err := e.fetch(r)
	if err == nil {
		if err := e.storeSnapshot(key, res); err != nil {
			e.requestLogger(r).Warn().Err(err).Str("key", key).Msg("Could not write to cache")
		}
		cs := cachestatus.Status{}
		cs.Forward(cachestatus.FwdMiss)
		cs.Stored()
		e.metrics.requests.WithLabelValues(strategyNetFirst, outcomeMiss).Inc()
		e.logRequest(r, cs)
		e.send(w, res, cs)
		return
	}
	e.requestLogger(r).Debug().Err(err).Str("key", key).Msg("Origin unreachable, trying cached fallbacks")

	if e.sendCached(w, r, key) {
		e.metrics.requests.WithLabelValues(strategyNetFirst, outcomeFallback).Inc()
		return
	}
	if key != rootPath && e.sendCached(w, r, rootPath) {
		e.metrics.requests.WithLabelValues(strategyNetFirst, outcomeFallback).Inc()
		return
	}

	e.metrics.requests.WithLabelValues(strategyNetFirst, outcomeError).Inc()
	http.Error(w, "Could not get response", http.StatusBadGateway)
}

// staleWhileRevalidate serves static asset requests: a cached snapshot is
// returned immediately if one exists, and the entry is refreshed from the
// origin in the background. On a miss the origin response is stored and
// relayed; if the origin is also unreachable, the failure is surfaced.
func (e *Engine) staleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)

	bytes, ok, err := e.store.Get(e.cacheName, key)
	if err != nil {
		// a broken lookup is handled like a miss
		e.requestLogger(r).Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		ok = false
	}
	if ok {
		if snap, err := serializer.BytesToSnapshot(bytes); err == nil {
			e.scheduleRevalidate(key)
			cs := cachestatus.Status{}
			cs.Hit()
			e.metrics.requests.WithLabelValues(strategySWR, outcomeHit).Inc()
			e.logRequest(r, cs)
			addAgeHeader(snap)
			e.send(w, snap.Response, cs)
			return
		}
		// corrupted entry, refetch below and overwrite
		e.requestLogger(r).Warn().Str("key", key).Msg("Corrupted cache entry")
	}

	res, err := e.fetch(r)
	if err != nil {
		e.metrics.requests.WithLabelValues(strategySWR, outcomeError).Inc()
		e.requestLogger(r).Debug().Err(err).Str("key", key).Msg("Origin unreachable and no cached entry")
		http.Error(w, "Could not get response", http.StatusBadGateway)
		return
	}
	if err := e.storeSnapshot(key, res); err != nil {
		e.requestLogger(r).Warn().Err(err).Str("key", key).Msg("Could not write to cache")
	}
	cs := cachestatus.Status{}
	cs.Forward(cachestatus.FwdMiss)
	cs.Stored()
	e.metrics.requests.WithLabelValues(strategySWR, outcomeMiss).Inc()
	e.logRequest(r, cs)
	e.send(w, res, cs)
}

// scheduleRevalidate refreshes the cache entry for the given key in the
// background. The work is registered on the engine so that Drain can await
// in-flight writes; without that, shutdown would truncate them.
func (e *Engine) scheduleRevalidate(key string) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		req, err := http.NewRequest(http.MethodGet, key, nil)
		if err != nil {
			e.log.Error().Err(err).Str("key", key).Msg("Could not create revalidation request")
			return
		}
		res, err := e.fetch(req)
		if err != nil {
			// keep serving the stale entry
			e.log.Debug().Err(err).Str("key", key).Msg("Revalidation fetch failed")
			return
		}
		defer res.Body.Close()
		if err := e.storeSnapshot(key, res); err != nil {
			e.log.Error().Err(err).Str("key", key).Msg("Could not store revalidated response")
			return
		}
		e.metrics.revalidations.Inc()
		e.log.Trace().Str("key", key).Msg("Cache entry revalidated")
	}()
}

// storeSnapshot writes an immutable copy of the response into the current
// cache generation. The response body remains readable afterwards.
func (e *Engine) storeSnapshot(key string, res *http.Response) error {
	bytes, err := serializer.SnapshotToBytes(serializer.Snapshot{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		return err
	}
	e.log.Trace().Str("key", key).Msg("Writing to cache")
	return e.store.Put(e.cacheName, key, bytes)
}

// sendCached serves the stored snapshot for the given key, if one exists.
// It reports whether a response was sent.
func (e *Engine) sendCached(w http.ResponseWriter, r *http.Request, key string) bool {
	bytes, ok, err := e.store.Get(e.cacheName, key)
	if err != nil {
		e.requestLogger(r).Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		return false
	}
	if !ok {
		return false
	}
	snap, err := serializer.BytesToSnapshot(bytes)
	if err != nil {
		e.requestLogger(r).Warn().Err(err).Str("key", key).Msg("Corrupted cache entry")
		return false
	}
	cs := cachestatus.Status{}
	cs.Hit()
	cs.Detail("offline-fallback")
	e.logRequest(r, cs)
	addAgeHeader(snap)
	e.send(w, snap.Response, cs)
	return true
}

func addAgeHeader(snap serializer.Snapshot) {
	age := int64(time.Since(snap.StoredAt).Seconds())
	if age < 0 {
		age = 0
	}
	snap.Response.Header.Set("Age", strconv.FormatInt(age, 10))
}
