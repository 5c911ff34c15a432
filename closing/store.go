/*
store.go - Persistence interfaces for closings, lines and adjustments

PURPOSE:
  Defines the interface between the engine and the database. Closings and
  their lines are written only by the Controller; adjustments have their
  own append/delete store; collaborator data is read through Source.

KEY INTERFACES:
  ClosingStore:    TeamClosing + EmployeeClosingLine persistence
  TxStore:         ClosingStore with an atomic unit of work
  AdjustmentStore: Append/delete-only adjustment ledger
  Source:          Read-only collaborator inputs (sales, employees, goals)
  SnapshotReader:  A closing, its lines and adjustments from one snapshot

ATOMIC LINE REPLACEMENT:
  A recompute deletes every line of a closing and inserts the fresh set.
  Both steps plus the closing aggregate update run inside WithTx, so a
  reader sees either the previous snapshot or the new one, never a mix.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (database/sql transaction)
  - closing/store/memory.go: In-memory (snapshot + rollback)

SEE ALSO:
  - recompute.go: The only caller of DeleteLines/InsertLines
  - ledger.go: Uses AdjustmentStore
*/
package closing

import "context"

// =============================================================================
// CLOSING STORE
// =============================================================================

type ClosingStore interface {
	// GetClosing returns the closing for a month, or nil if none exists.
	GetClosing(ctx context.Context, month Month) (*TeamClosing, error)

	// GetClosingByID returns the closing with the id, or nil.
	GetClosingByID(ctx context.Context, id ClosingID) (*TeamClosing, error)

	// ListClosings returns all closings, most recent month first.
	ListClosings(ctx context.Context) ([]TeamClosing, error)

	// SaveClosing inserts or replaces the closing. At most one closing may
	// exist per reference month.
	SaveClosing(ctx context.Context, c TeamClosing) error

	// Lines returns the lines of a closing ordered by employee id.
	Lines(ctx context.Context, closingID ClosingID) ([]EmployeeClosingLine, error)

	// DeleteLines removes every line of a closing.
	DeleteLines(ctx context.Context, closingID ClosingID) error

	// InsertLines adds lines. Fails on a duplicate (closing, employee).
	InsertLines(ctx context.Context, lines []EmployeeClosingLine) error
}

// TxStore wraps ClosingStore with transaction support.
type TxStore interface {
	ClosingStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(ClosingStore) error) error
}

// =============================================================================
// ADJUSTMENT STORE - Append/delete only
// =============================================================================

type AdjustmentStore interface {
	AppendAdjustment(ctx context.Context, a Adjustment) error

	// DeleteAdjustment hard-deletes. Returns ErrNotFound if absent.
	DeleteAdjustment(ctx context.Context, id AdjustmentID) error

	// GetAdjustment returns the adjustment, or nil.
	GetAdjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error)

	// ListAdjustments returns adjustments of a closing, most recent first.
	ListAdjustments(ctx context.Context, closingID ClosingID) ([]Adjustment, error)
}

// =============================================================================
// SOURCE - Collaborator inputs (read-only)
// =============================================================================

type Source interface {
	// SalesPeriod returns the sales aggregate for a month, or nil if the
	// sales have not been imported.
	SalesPeriod(ctx context.Context, month Month) (*SalesPeriod, error)

	// ActiveEmployees returns employees with the active flag set.
	ActiveEmployees(ctx context.Context) ([]Employee, error)

	// Employee returns one employee (active or not), or nil.
	Employee(ctx context.Context, id EmployeeID) (*Employee, error)

	// ApprovedServiceSales returns the approved service sales of a month.
	ApprovedServiceSales(ctx context.Context, month Month) ([]ServiceSale, error)

	// IndividualGoals returns the goals of a month.
	IndividualGoals(ctx context.Context, month Month) ([]IndividualGoal, error)
}

// =============================================================================
// SNAPSHOT READS
// =============================================================================

// ClosingSnapshot is a closing with the lines and adjustments committed at
// the same instant.
type ClosingSnapshot struct {
	Closing     TeamClosing
	Lines       []EmployeeClosingLine
	Adjustments []Adjustment
}

type SnapshotReader interface {
	// ReadClosing returns the month's closing with its lines (by employee id)
	// and adjustments (most recent first), or nil if no closing exists. A
	// concurrent recompute is seen either entirely or not at all.
	ReadClosing(ctx context.Context, month Month) (*ClosingSnapshot, error)
}

// Repository is implemented by stores that back the whole engine.
type Repository interface {
	TxStore
	AdjustmentStore
	Source
	SnapshotReader
}
