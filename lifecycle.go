package shellcache

import (
	"context"
	"fmt"
	"net/http"
)

// HandleInstall pre-populates the current cache generation with the static
// asset manifest. A manifest entry that cannot be fetched or stored is logged
// and skipped: a partial shell cache is a degraded state, not a failure, so
// install still reports success. Only an unusable store aborts the install.
func (e *Engine) HandleInstall(ctx context.Context) error {
	if err := e.store.Open(e.cacheName); err != nil {
		return fmt.Errorf("open cache %q: %w", e.cacheName, err)
	}
	stored := 0
	for _, path := range e.manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.origin.String()+path, nil)
		if err != nil {
			e.log.Warn().Err(err).Str("asset", path).Msg("Could not create shell asset request")
			e.metrics.installFailures.Inc()
			continue
		}
		res, err := e.client.Do(req)
		if err != nil {
			e.log.Warn().Err(err).Str("asset", path).Msg("Could not fetch shell asset")
			e.metrics.installFailures.Inc()
			continue
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			res.Body.Close()
			e.log.Warn().Int("http-status", res.StatusCode).Str("asset", path).Msg("Shell asset not available")
			e.metrics.installFailures.Inc()
			continue
		}
		if err := e.storeSnapshot(path, res); err != nil {
			e.log.Warn().Err(err).Str("asset", path).Msg("Could not store shell asset")
			e.metrics.installFailures.Inc()
		} else {
			stored++
		}
		res.Body.Close()
	}
	e.log.Info().Int("stored", stored).Int("manifest", len(e.manifest)).Msg("Shell cache populated")
	return nil
}

// HandleActivate deletes every cache generation whose name does not match the
// current one. Snapshots from earlier deployments are useless once the asset
// revision changes, and keeping them around would let stale shells resurface.
func (e *Engine) HandleActivate(ctx context.Context) error {
	names, err := e.store.Names()
	if err != nil {
		return fmt.Errorf("enumerate caches: %w", err)
	}
	for _, name := range names {
		if name == e.cacheName {
			continue
		}
		if err := e.store.Delete(name); err != nil {
			return fmt.Errorf("delete cache %q: %w", name, err)
		}
		e.log.Info().Str("stale", name).Msg("Deleted stale cache generation")
	}
	return nil
}

// Startup runs install and activation back to back. There is no staged
// handover between engine generations: the new generation claims all traffic
// as soon as its shell cache is populated.
func (e *Engine) Startup(ctx context.Context) error {
	if err := e.HandleInstall(ctx); err != nil {
		return err
	}
	return e.HandleActivate(ctx)
}

// Drain blocks until all in-flight background cache writes have finished.
// Call before exiting to avoid truncating revalidations.
func (e *Engine) Drain() {
	e.pending.Wait()
}
