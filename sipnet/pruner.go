package sipnet

import (
	"time"

	"github.com/rs/zerolog"
)

// pruner is the C8 idle-connection reaper of spec.md §4.8: a ticker sweeps a
// stream channel's connection pool and closes anything that has not sent or
// received in longer than PruneIdleTimeout. Grounded in the ticker +
// cancellation-context sweep idiom used elsewhere for fragment-timeout
// reassembly.
type pruner struct {
	stop chan struct{}
	done chan struct{}
}

func startPruner(pool *connectionPool, cfg Config, channelID string, metrics *Metrics, log zerolog.Logger, channelDone <-chan struct{}) *pruner {
	p := &pruner{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run(pool, cfg, channelID, metrics, log, channelDone)
	return p
}

func (p *pruner) run(pool *connectionPool, cfg Config, channelID string, metrics *Metrics, log zerolog.Logger, channelDone <-chan struct{}) {
	defer close(p.done)

	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep(pool, cfg, channelID, metrics, log)
		case <-channelDone:
			return
		case <-p.stop:
			return
		}
	}
}

func (p *pruner) sweep(pool *connectionPool, cfg Config, channelID string, metrics *Metrics, log zerolog.Logger) {
	deadline := time.Now().Add(-cfg.PruneIdleTimeout)
	var evicted []string

	pool.Range(func(c *streamConn) {
		if c.LastTransmissionAt().Before(deadline) {
			evicted = append(evicted, c.id)
		}
	})

	for _, id := range evicted {
		if err := pool.CloseAndDelete(id); err != nil {
			log.Debug().Err(err).Str("connection_id", id).Msg("pruner close failed")
		}
		metrics.incPrunerEvictions(channelID)
	}
	if len(evicted) > 0 {
		log.Debug().Int("evicted", len(evicted)).Msg("pruner swept idle connections")
	}
}

// Stop halts the pruner's ticker loop. Channels call this from Close in
// addition to closing their own done channel, so a pruner created before a
// channel's done channel exists (none currently, but kept for symmetry with
// the explicit-stop shutdown idiom used elsewhere) always has a direct path
// to stop.
func (p *pruner) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}
