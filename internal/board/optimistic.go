package board

import (
	"context"

	"github.com/sirupsen/logrus"
)

// transaction is one optimistic mutation: predict locally, commit remotely,
// then confirm or roll back.
type transaction struct {
	taskID  string
	predict prediction
	commit  func(ctx context.Context) error
	// success runs after a confirmed commit, before release.
	success func(ctx context.Context)
	failure string
	release func()
	fields  logrus.Fields
}

// run applies the prediction synchronously and reconciles on a goroutine.
// The caller sees the predicted state as soon as run returns.
func (b *Board) run(ctx context.Context, tx transaction) error {
	snap, err := b.store.apply(tx.taskID, tx.predict)
	if err != nil {
		if tx.release != nil {
			tx.release()
		}
		return err
	}
	b.inflight.Go(func() {
		if tx.release != nil {
			defer tx.release()
		}
		log := b.log.WithField("task", tx.taskID).WithFields(tx.fields)
		if err := tx.commit(ctx); err != nil {
			switch b.store.restore(snap) {
			case reloaded:
				log.Debug("rollback skipped, board reloaded since prediction")
			case superseded:
				log.Debug("rollback skipped, task changed since prediction, reloading")
				if rerr := b.RefreshTasks(ctx); rerr != nil {
					log.WithError(rerr).Warn("reload after superseded rollback failed")
				}
			}
			b.surface(tx.failure, tx.taskID, err)
			return
		}
		log.Debug("optimistic mutation confirmed")
		if tx.success != nil {
			tx.success(ctx)
		}
	})
	return nil
}
