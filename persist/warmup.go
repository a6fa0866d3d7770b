package persist

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Warmer repopulates the in-memory cache from a full scan of the durable
// store. One-shot: it exits when the scan is exhausted. It runs concurrently
// with normal traffic; materialization lets entries already in memory win.
type Warmer struct {
	log         logrus.FieldLogger
	store       *Store
	materialize MaterializeFunc
}

func NewWarmer(l logrus.FieldLogger, store *Store, materialize MaterializeFunc) *Warmer {
	return &Warmer{
		log:         l.WithField("worker", "warm-up"),
		store:       store,
		materialize: materialize,
	}
}

// Run scans the whole store once. Scan errors abort the warm-up and are
// logged; records that cannot be materialized are skipped.
func (wm *Warmer) Run(ctx context.Context) {
	var warmed int
	err := wm.store.Scan(ctx, func(rec Record) error {
		if err := wm.materialize(rec); err != nil {
			wm.log.WithError(err).Warnf("Skipping warm-up of %q.", rec.Key)
			return nil
		}
		warmedItems.Inc()
		warmed++
		return nil
	})
	if err != nil {
		wm.log.WithError(err).Error("Warm-up scan aborted.")
		return
	}
	wm.log.Infof("Warm-up complete, %v items loaded.", warmed)
}
