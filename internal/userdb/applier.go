package userdb

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingRowSource = errors.New("userdb: row source is required")

	// ErrUnknownAction indicates a row edit carries an action outside add/modify/delete.
	ErrUnknownAction = errors.New("userdb: unknown action")
	// ErrAuthoritativeLookup indicates the authoritative store could not be queried.
	// Transient by nature; the task is expected to be retried.
	ErrAuthoritativeLookup = errors.New("userdb: authoritative lookup failed")

	noOpLogger = zap.NewNop()
)

// RowSource is the authoritative store consulted when a modify targets a row
// the snapshot has never seen. found=false means the row does not exist
// upstream either.
type RowSource interface {
	FetchRow(ctx context.Context, table string, rowID int64) (columns map[string]any, found bool, err error)
}

// ApplyError carries the table/row context of a failed row edit.
type ApplyError struct {
	Table  string
	RowID  int64
	Action Action
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply failed: table %s row %d action %q: %v", e.Table, e.RowID, e.Action, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// ApplierConfig wires the applier's collaborators.
type ApplierConfig struct {
	Rows   RowSource
	Logger *zap.Logger
}

// Applier merges changelogs into snapshots. Apply is idempotent: re-applying
// a changelog to a snapshot already in the resulting state changes nothing.
type Applier struct {
	rows   RowSource
	logger *zap.Logger
}

// NewApplier validates configuration and returns an Applier.
func NewApplier(cfg ApplierConfig) (*Applier, error) {
	if cfg.Rows == nil {
		return nil, errMissingRowSource
	}
	log := cfg.Logger
	if log == nil {
		log = noOpLogger
	}
	return &Applier{rows: cfg.Rows, logger: log}, nil
}

// Apply merges the changelog into the snapshot. Tables are processed in
// TableOrder regardless of the changelog's own key order; within a table,
// edits run in stored order and each row edit commits on its own, so a
// mid-batch failure leaves the snapshot internally consistent and the task
// safely retryable.
func (a *Applier) Apply(ctx context.Context, snap *Snapshot, changelog Changelog) error {
	for table := range changelog {
		if _, ok := bindingFor(table); !ok {
			return &ApplyError{Table: table, Err: ErrUnknownTable}
		}
	}

	for _, table := range TableOrder {
		edits, ok := changelog[table]
		if !ok {
			continue
		}
		binding, _ := bindingFor(table)
		for _, edit := range edits {
			if err := a.applyEdit(ctx, snap.DB(), binding, edit); err != nil {
				var applyErr *ApplyError
				if errors.As(err, &applyErr) {
					return err
				}
				return &ApplyError{Table: table, RowID: edit.RowID, Action: edit.Action, Err: err}
			}
		}
	}
	return nil
}

func (a *Applier) applyEdit(ctx context.Context, db *gorm.DB, binding tableBinding, edit RowEdit) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch edit.Action {
		case ActionAdd:
			return a.applyAdd(tx, binding, edit)
		case ActionModify:
			return a.applyModify(ctx, tx, binding, edit)
		case ActionDelete:
			return binding.remove(tx, edit.RowID)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, edit.Action)
		}
	})
}

// applyAdd inserts the row, or patches the given columns when the id already
// exists. Replayed deliveries hit the patch path, which keeps add idempotent.
func (a *Applier) applyAdd(tx *gorm.DB, binding tableBinding, edit RowEdit) error {
	row, found, err := binding.load(tx, edit.RowID)
	if err != nil {
		return err
	}
	if !found {
		row = binding.newRow(edit.RowID)
	}
	if err := setColumns(row, edit.Data); err != nil {
		return err
	}
	return tx.Save(row).Error
}

// applyModify patches an existing row in place. When the snapshot has never
// seen the row, the full current record is backfilled from the authoritative
// store; the changelog's partial data is discarded for that case. A row
// absent from both sides is a stale edit and is skipped.
func (a *Applier) applyModify(ctx context.Context, tx *gorm.DB, binding tableBinding, edit RowEdit) error {
	row, found, err := binding.load(tx, edit.RowID)
	if err != nil {
		return err
	}
	if found {
		if err := setColumns(row, edit.Data); err != nil {
			return err
		}
		return tx.Save(row).Error
	}

	columns, found, err := a.rows.FetchRow(ctx, binding.name, edit.RowID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthoritativeLookup, err)
	}
	if !found {
		a.logger.Debug("skipping stale modify",
			zap.String("table", binding.name),
			zap.Int64("row_id", edit.RowID))
		return nil
	}

	row = binding.newRow(edit.RowID)
	if err := setColumns(row, columns); err != nil {
		return err
	}
	return tx.Save(row).Error
}

func setColumns(row tableRow, columns map[string]any) error {
	for name, value := range columns {
		if err := row.SetColumn(name, value); err != nil {
			return err
		}
	}
	return nil
}
