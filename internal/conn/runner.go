package conn

import (
	"context"

	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/txn"
)

// RunInTx runs do inside one transaction on c: commits when do succeeds,
// rolls back otherwise. The autocommit mode of c is restored afterwards.
func RunInTx(ctx context.Context, c *Conn, do func(ctx context.Context) error) (err error) {
	if id, open := c.TransactionID(); open {
		return errors.Wrapf(txn.ErrChangeInsideTransaction, "start nested transaction in %s", id)
	}

	autoCommit, err := c.AutoCommit()
	if err != nil {
		return err
	}

	err = c.SetAutoCommit(false)
	if err != nil {
		return errors.WrapFail(err, "start transaction")
	}

	defer func() {
		if c.IsClosed() {
			return
		}
		restoreErr := c.SetAutoCommit(autoCommit)
		if restoreErr != nil {
			err = errors.Join(err, errors.WrapFail(restoreErr, "restore autocommit"))
		}
	}()

	err = do(ctx)
	if err != nil {
		c.log.Info(errors.Wrap(err, "rolling back transaction"))
		return errors.Join(err, c.Rollback(ctx))
	}

	err = c.Commit(ctx)
	if err == nil {
		return nil
	}

	if _, open := c.TransactionID(); open {
		return errors.Join(err, c.Rollback(ctx))
	}
	return err
}
