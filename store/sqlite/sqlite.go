/*
Package sqlite provides a SQLite-backed implementation of the closing stores.

PURPOSE:
  Implements closing.Repository (ClosingStore, TxStore, AdjustmentStore,
  Source) using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  team_closings:           One row per reference month (UNIQUE)
  employee_closing_lines:  Computed lines, replaced wholesale on recompute
  adjustments:             Manual credits/debits, append/delete only
  employees:               Collaborator mirror
  sales_periods:           Collaborator mirror (sales aggregate + status)
  service_sales:           Collaborator mirror (one-off service sales)
  individual_goals:        Collaborator mirror

ATOMIC LINE REPLACEMENT:
  WithTx runs the closing update, the DELETE and the INSERTs of a recompute
  in one database transaction. A failure rolls everything back, so readers
  keep seeing the previous snapshot.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety around writes. WAL mode lets readers
  proceed while a recompute transaction is open.

DECIMALS:
  Money and percentages are stored as TEXT via decimal.Decimal's
  sql.Scanner/driver.Valuer, so no precision is lost.

USAGE:
  store, err := sqlite.New("./data/closing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  controller := closing.NewController(store, logger)

SEE ALSO:
  - closing/store.go: Interface definitions
  - closing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/team-closing/closing"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// execQuerier is satisfied by both *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Team closings (one per reference month)
	CREATE TABLE IF NOT EXISTS team_closings (
		id TEXT PRIMARY KEY,
		reference_month TEXT NOT NULL UNIQUE,
		starting_subscriptions INTEGER NOT NULL DEFAULT 0,
		cancellations_count INTEGER NOT NULL DEFAULT 0,
		target_sales_quantity INTEGER NOT NULL DEFAULT 0,
		churn_limit TEXT NOT NULL,
		cancellation_limit TEXT NOT NULL,
		churn_bonus_pct TEXT NOT NULL,
		retention_bonus_pct TEXT NOT NULL,
		target_bonus_pct TEXT NOT NULL,
		participants_json TEXT,
		require_opt_in BOOLEAN NOT NULL DEFAULT FALSE,
		applied_config_json TEXT,
		recurring_sales_count INTEGER NOT NULL DEFAULT 0,
		churn_rate TEXT NOT NULL DEFAULT '0',
		cancellation_rate TEXT NOT NULL DEFAULT '0',
		target_percent TEXT NOT NULL DEFAULT '0',
		mrr_for_period TEXT NOT NULL DEFAULT '0',
		mrr_qualifying_for_bonus TEXT NOT NULL DEFAULT '0',
		churn_bonus_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
		retention_bonus_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
		target_bonus_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
		target_bonus_pool_total TEXT NOT NULL DEFAULT '0',
		participant_count INTEGER NOT NULL DEFAULT 0,
		target_bonus_per_participant TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'draft',
		calculated_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Computed lines (replaced wholesale on every recompute)
	CREATE TABLE IF NOT EXISTS employee_closing_lines (
		id TEXT PRIMARY KEY,
		closing_id TEXT NOT NULL REFERENCES team_closings(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		churn_bonus_amount TEXT NOT NULL,
		retention_bonus_amount TEXT NOT NULL,
		target_bonus_amount TEXT NOT NULL,
		subtotal_salary_bonuses TEXT NOT NULL,
		service_sales_count INTEGER NOT NULL,
		service_sales_total TEXT NOT NULL,
		service_commission_pct TEXT NOT NULL,
		service_commission_amount TEXT NOT NULL,
		individual_goals_count INTEGER NOT NULL,
		individual_goals_met INTEGER NOT NULL,
		individual_goals_bonus_amount TEXT NOT NULL,
		total_payable TEXT NOT NULL,
		UNIQUE(closing_id, employee_id)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_closing
		ON employee_closing_lines(closing_id);

	-- Adjustments (append/delete only)
	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		closing_id TEXT NOT NULL REFERENCES team_closings(id),
		employee_id TEXT,
		kind TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_closing
		ON adjustments(closing_id, created_at DESC);

	-- Employees (collaborator mirror)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT,
		base_salary TEXT NOT NULL,
		services_commission_pct TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		participates_in_team_closing BOOLEAN NOT NULL DEFAULT FALSE,
		participates_in_target_bonus BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_active
		ON employees(active);

	-- Sales periods (collaborator mirror)
	CREATE TABLE IF NOT EXISTS sales_periods (
		reference_month TEXT PRIMARY KEY,
		total_mrr TEXT NOT NULL,
		qualifying_mrr TEXT NOT NULL,
		total_recurring_sales INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		updated_at TEXT NOT NULL
	);

	-- Service sales (collaborator mirror)
	CREATE TABLE IF NOT EXISTS service_sales (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_month TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_service_sales_month
		ON service_sales(period_month, status);

	-- Individual goals (collaborator mirror)
	CREATE TABLE IF NOT EXISTS individual_goals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_month TEXT NOT NULL,
		description TEXT,
		bonus_value TEXT NOT NULL,
		bonus_kind TEXT NOT NULL,
		achieved BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_individual_goals_month
		ON individual_goals(period_month);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.ensureColumn("team_closings", "applied_config_json", "TEXT")
}

// ensureColumn adds a column to tables created before it existed.
func (s *Store) ensureColumn(table, column, def string) error {
	rows, err := s.db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + def)
	return err
}

// =============================================================================
// CLOSING STORE (closing.ClosingStore interface)
// =============================================================================

func (s *Store) GetClosing(ctx context.Context, month closing.Month) (*closing.TeamClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClosing(ctx, s.db, "reference_month = ?", month.String())
}

func (s *Store) GetClosingByID(ctx context.Context, id closing.ClosingID) (*closing.TeamClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClosing(ctx, s.db, "id = ?", string(id))
}

func (s *Store) ListClosings(ctx context.Context) ([]closing.TeamClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listClosings(ctx, s.db)
}

func (s *Store) SaveClosing(ctx context.Context, tc closing.TeamClosing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveClosing(ctx, s.db, tc)
}

func (s *Store) Lines(ctx context.Context, closingID closing.ClosingID) ([]closing.EmployeeClosingLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLines(ctx, s.db, closingID)
}

func (s *Store) DeleteLines(ctx context.Context, closingID closing.ClosingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteLines(ctx, s.db, closingID)
}

// InsertLines adds lines atomically.
func (s *Store) InsertLines(ctx context.Context, lines []closing.EmployeeClosingLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := insertLines(ctx, sqlTx, lines); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(closing.ClosingStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the closing.ClosingStore view handed to WithTx callbacks.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) GetClosing(ctx context.Context, month closing.Month) (*closing.TeamClosing, error) {
	return getClosing(ctx, t.tx, "reference_month = ?", month.String())
}

func (t *txStore) GetClosingByID(ctx context.Context, id closing.ClosingID) (*closing.TeamClosing, error) {
	return getClosing(ctx, t.tx, "id = ?", string(id))
}

func (t *txStore) ListClosings(ctx context.Context) ([]closing.TeamClosing, error) {
	return listClosings(ctx, t.tx)
}

func (t *txStore) SaveClosing(ctx context.Context, tc closing.TeamClosing) error {
	return saveClosing(ctx, t.tx, tc)
}

func (t *txStore) Lines(ctx context.Context, closingID closing.ClosingID) ([]closing.EmployeeClosingLine, error) {
	return listLines(ctx, t.tx, closingID)
}

func (t *txStore) DeleteLines(ctx context.Context, closingID closing.ClosingID) error {
	return deleteLines(ctx, t.tx, closingID)
}

func (t *txStore) InsertLines(ctx context.Context, lines []closing.EmployeeClosingLine) error {
	return insertLines(ctx, t.tx, lines)
}

// =============================================================================
// SNAPSHOT READS (closing.SnapshotReader interface)
// =============================================================================

// ReadClosing reads the closing, its lines and adjustments in one read
// transaction while holding the read lock that WithTx excludes.
func (s *Store) ReadClosing(ctx context.Context, month closing.Month) (*closing.ClosingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tc, err := getClosing(ctx, sqlTx, "reference_month = ?", month.String())
	if err != nil || tc == nil {
		return nil, err
	}
	lines, err := listLines(ctx, sqlTx, tc.ID)
	if err != nil {
		return nil, err
	}
	adjs, err := listAdjustments(ctx, sqlTx, tc.ID)
	if err != nil {
		return nil, err
	}
	return &closing.ClosingSnapshot{Closing: *tc, Lines: lines, Adjustments: adjs}, nil
}

// =============================================================================
// CLOSING QUERIES
// =============================================================================

const closingColumns = `
	id, reference_month,
	starting_subscriptions, cancellations_count, target_sales_quantity,
	churn_limit, cancellation_limit, churn_bonus_pct, retention_bonus_pct, target_bonus_pct,
	participants_json, require_opt_in, applied_config_json,
	recurring_sales_count, churn_rate, cancellation_rate, target_percent,
	mrr_for_period, mrr_qualifying_for_bonus,
	churn_bonus_unlocked, retention_bonus_unlocked, target_bonus_unlocked,
	target_bonus_pool_total, participant_count, target_bonus_per_participant,
	status, calculated_at, created_at, updated_at`

func saveClosing(ctx context.Context, db execQuerier, tc closing.TeamClosing) error {
	participants, err := closing.MarshalSelection(tc.Config.Participants)
	if err != nil {
		return err
	}
	var applied sql.NullString
	if tc.AppliedConfig != nil {
		data, err := closing.MarshalConfig(*tc.AppliedConfig)
		if err != nil {
			return err
		}
		applied = sql.NullString{String: string(data), Valid: true}
	}
	var calculatedAt sql.NullString
	if tc.CalculatedAt != nil {
		calculatedAt = sql.NullString{String: formatTime(*tc.CalculatedAt), Valid: true}
	}
	createdAt := tc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := tc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
		INSERT INTO team_closings (` + closingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference_month = excluded.reference_month,
			starting_subscriptions = excluded.starting_subscriptions,
			cancellations_count = excluded.cancellations_count,
			target_sales_quantity = excluded.target_sales_quantity,
			churn_limit = excluded.churn_limit,
			cancellation_limit = excluded.cancellation_limit,
			churn_bonus_pct = excluded.churn_bonus_pct,
			retention_bonus_pct = excluded.retention_bonus_pct,
			target_bonus_pct = excluded.target_bonus_pct,
			participants_json = excluded.participants_json,
			require_opt_in = excluded.require_opt_in,
			applied_config_json = excluded.applied_config_json,
			recurring_sales_count = excluded.recurring_sales_count,
			churn_rate = excluded.churn_rate,
			cancellation_rate = excluded.cancellation_rate,
			target_percent = excluded.target_percent,
			mrr_for_period = excluded.mrr_for_period,
			mrr_qualifying_for_bonus = excluded.mrr_qualifying_for_bonus,
			churn_bonus_unlocked = excluded.churn_bonus_unlocked,
			retention_bonus_unlocked = excluded.retention_bonus_unlocked,
			target_bonus_unlocked = excluded.target_bonus_unlocked,
			target_bonus_pool_total = excluded.target_bonus_pool_total,
			participant_count = excluded.participant_count,
			target_bonus_per_participant = excluded.target_bonus_per_participant,
			status = excluded.status,
			calculated_at = excluded.calculated_at,
			updated_at = excluded.updated_at
	`
	_, err = db.ExecContext(ctx, query,
		string(tc.ID),
		tc.ReferenceMonth.String(),
		tc.Config.StartingSubscriptions,
		tc.Config.CancellationsCount,
		tc.Config.TargetSalesQuantity,
		tc.Config.ChurnLimit,
		tc.Config.CancellationLimit,
		tc.Config.ChurnBonusPct,
		tc.Config.RetentionBonusPct,
		tc.Config.TargetBonusPct,
		string(participants),
		tc.Config.RequireTeamClosingOptIn,
		applied,
		tc.RecurringSalesCount,
		tc.ChurnRate,
		tc.CancellationRate,
		tc.TargetPercent,
		tc.MrrForPeriod,
		tc.MrrQualifyingForBonus,
		tc.ChurnBonusUnlocked,
		tc.RetentionBonusUnlocked,
		tc.TargetBonusUnlocked,
		tc.TargetBonusPoolTotal,
		tc.ParticipantCount,
		tc.TargetBonusPerParticipant,
		string(tc.Status),
		calculatedAt,
		formatTime(createdAt),
		formatTime(updatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("closing for %s already exists: %w", tc.ReferenceMonth, err)
		}
		return fmt.Errorf("failed to save closing: %w", err)
	}
	return nil
}

func getClosing(ctx context.Context, db execQuerier, where string, arg any) (*closing.TeamClosing, error) {
	row := db.QueryRowContext(ctx, `SELECT `+closingColumns+` FROM team_closings WHERE `+where, arg)
	tc, err := scanClosing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tc, nil
}

func listClosings(ctx context.Context, db execQuerier) ([]closing.TeamClosing, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+closingColumns+` FROM team_closings ORDER BY reference_month DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list closings: %w", err)
	}
	defer rows.Close()

	var out []closing.TeamClosing
	for rows.Next() {
		tc, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClosing(row scanner) (*closing.TeamClosing, error) {
	var (
		tc                                  closing.TeamClosing
		id, month, status                   string
		participants, applied, calculatedAt sql.NullString
		createdAt, updatedAt                string
	)
	err := row.Scan(
		&id, &month,
		&tc.Config.StartingSubscriptions, &tc.Config.CancellationsCount, &tc.Config.TargetSalesQuantity,
		&tc.Config.ChurnLimit, &tc.Config.CancellationLimit,
		&tc.Config.ChurnBonusPct, &tc.Config.RetentionBonusPct, &tc.Config.TargetBonusPct,
		&participants, &tc.Config.RequireTeamClosingOptIn, &applied,
		&tc.RecurringSalesCount, &tc.ChurnRate, &tc.CancellationRate, &tc.TargetPercent,
		&tc.MrrForPeriod, &tc.MrrQualifyingForBonus,
		&tc.ChurnBonusUnlocked, &tc.RetentionBonusUnlocked, &tc.TargetBonusUnlocked,
		&tc.TargetBonusPoolTotal, &tc.ParticipantCount, &tc.TargetBonusPerParticipant,
		&status, &calculatedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tc.ID = closing.ClosingID(id)
	tc.Status = closing.Status(status)
	if tc.ReferenceMonth, err = closing.ParseMonth(month); err != nil {
		return nil, err
	}
	if tc.Config.Participants, err = closing.UnmarshalSelection([]byte(participants.String)); err != nil {
		return nil, err
	}
	if applied.Valid {
		cfg, err := closing.UnmarshalConfig([]byte(applied.String))
		if err != nil {
			return nil, err
		}
		tc.AppliedConfig = &cfg
	}
	if calculatedAt.Valid {
		t, err := parseTime(calculatedAt.String)
		if err != nil {
			return nil, err
		}
		tc.CalculatedAt = &t
	}
	if tc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &tc, nil
}

// =============================================================================
// LINE QUERIES
// =============================================================================

func listLines(ctx context.Context, db execQuerier, closingID closing.ClosingID) ([]closing.EmployeeClosingLine, error) {
	query := `
		SELECT id, closing_id, employee_id,
		       churn_bonus_amount, retention_bonus_amount, target_bonus_amount, subtotal_salary_bonuses,
		       service_sales_count, service_sales_total, service_commission_pct, service_commission_amount,
		       individual_goals_count, individual_goals_met, individual_goals_bonus_amount,
		       total_payable
		FROM employee_closing_lines
		WHERE closing_id = ?
		ORDER BY employee_id ASC
	`
	rows, err := db.QueryContext(ctx, query, string(closingID))
	if err != nil {
		return nil, fmt.Errorf("failed to load lines: %w", err)
	}
	defer rows.Close()

	var out []closing.EmployeeClosingLine
	for rows.Next() {
		var (
			l                   closing.EmployeeClosingLine
			id, cid, employeeID string
		)
		if err := rows.Scan(
			&id, &cid, &employeeID,
			&l.ChurnBonusAmount, &l.RetentionBonusAmount, &l.TargetBonusAmount, &l.SubtotalSalaryBonuses,
			&l.ServiceSalesCount, &l.ServiceSalesTotal, &l.ServiceCommissionPct, &l.ServiceCommissionAmount,
			&l.IndividualGoalsCount, &l.IndividualGoalsMet, &l.IndividualGoalsBonusAmount,
			&l.TotalPayable,
		); err != nil {
			return nil, err
		}
		l.ID = closing.LineID(id)
		l.ClosingID = closing.ClosingID(cid)
		l.EmployeeID = closing.EmployeeID(employeeID)
		out = append(out, l)
	}
	return out, rows.Err()
}

func deleteLines(ctx context.Context, db execQuerier, closingID closing.ClosingID) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM employee_closing_lines WHERE closing_id = ?`, string(closingID)); err != nil {
		return fmt.Errorf("failed to delete lines: %w", err)
	}
	return nil
}

func insertLines(ctx context.Context, db execQuerier, lines []closing.EmployeeClosingLine) error {
	query := `
		INSERT INTO employee_closing_lines
		(id, closing_id, employee_id,
		 churn_bonus_amount, retention_bonus_amount, target_bonus_amount, subtotal_salary_bonuses,
		 service_sales_count, service_sales_total, service_commission_pct, service_commission_amount,
		 individual_goals_count, individual_goals_met, individual_goals_bonus_amount,
		 total_payable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, l := range lines {
		_, err := db.ExecContext(ctx, query,
			string(l.ID), string(l.ClosingID), string(l.EmployeeID),
			l.ChurnBonusAmount, l.RetentionBonusAmount, l.TargetBonusAmount, l.SubtotalSalaryBonuses,
			l.ServiceSalesCount, l.ServiceSalesTotal, l.ServiceCommissionPct, l.ServiceCommissionAmount,
			l.IndividualGoalsCount, l.IndividualGoalsMet, l.IndividualGoalsBonusAmount,
			l.TotalPayable,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate closing line for employee %s: %w", l.EmployeeID, err)
			}
			return fmt.Errorf("failed to insert line: %w", err)
		}
	}
	return nil
}

// =============================================================================
// ADJUSTMENT STORE (closing.AdjustmentStore interface)
// =============================================================================

func (s *Store) AppendAdjustment(ctx context.Context, a closing.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var employeeID sql.NullString
	if a.EmployeeID != nil {
		employeeID = sql.NullString{String: string(*a.EmployeeID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustments (id, closing_id, employee_id, kind, amount, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(a.ID), string(a.ClosingID), employeeID, string(a.Kind), a.Amount,
		a.Description, nullString(a.CreatedBy), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append adjustment: %w", err)
	}
	return nil
}

func (s *Store) DeleteAdjustment(ctx context.Context, id closing.AdjustmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM adjustments WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete adjustment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &closing.NotFoundError{Kind: "adjustment", ID: string(id)}
	}
	return nil
}

const adjustmentColumns = `id, closing_id, employee_id, kind, amount, description, created_by, created_at`

func (s *Store) GetAdjustment(ctx context.Context, id closing.AdjustmentID) (*closing.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = ?`, string(id))
	a, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *Store) ListAdjustments(ctx context.Context, closingID closing.ClosingID) ([]closing.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAdjustments(ctx, s.db, closingID)
}

func listAdjustments(ctx context.Context, db execQuerier, closingID closing.ClosingID) ([]closing.Adjustment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+adjustmentColumns+` FROM adjustments
		WHERE closing_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, string(closingID))
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var out []closing.Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAdjustment(row scanner) (*closing.Adjustment, error) {
	var (
		a                      closing.Adjustment
		id, cid, kind, created string
		employeeID, createdBy  sql.NullString
	)
	if err := row.Scan(&id, &cid, &employeeID, &kind, &a.Amount, &a.Description, &createdBy, &created); err != nil {
		return nil, err
	}
	a.ID = closing.AdjustmentID(id)
	a.ClosingID = closing.ClosingID(cid)
	a.Kind = closing.AdjustmentKind(kind)
	a.CreatedBy = createdBy.String
	if employeeID.Valid {
		eid := closing.EmployeeID(employeeID.String)
		a.EmployeeID = &eid
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = t
	return &a, nil
}

// =============================================================================
// EMPLOYEES (collaborator mirror)
// =============================================================================

const employeeColumns = `id, name, role, base_salary, services_commission_pct, active,
	participates_in_team_closing, participates_in_target_bonus`

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e closing.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			base_salary = excluded.base_salary,
			services_commission_pct = excluded.services_commission_pct,
			active = excluded.active,
			participates_in_team_closing = excluded.participates_in_team_closing,
			participates_in_target_bonus = excluded.participates_in_target_bonus
	`,
		string(e.ID), e.Name, e.Role, e.BaseSalary, e.ServicesCommissionPct, e.Active,
		e.ParticipatesInTeamClosing, e.ParticipatesInTargetBonus,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// ListEmployees returns all employees, active or not.
func (s *Store) ListEmployees(ctx context.Context) ([]closing.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEmployees(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
}

func (s *Store) ActiveEmployees(ctx context.Context) ([]closing.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEmployees(ctx, `SELECT `+employeeColumns+` FROM employees WHERE active = TRUE ORDER BY id`)
}

func (s *Store) Employee(ctx context.Context, id closing.EmployeeID) (*closing.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emps, err := s.queryEmployees(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, string(id))
	if err != nil || len(emps) == 0 {
		return nil, err
	}
	return &emps[0], nil
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]closing.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []closing.Employee
	for rows.Next() {
		var (
			e    closing.Employee
			id   string
			role sql.NullString
		)
		if err := rows.Scan(&id, &e.Name, &role, &e.BaseSalary, &e.ServicesCommissionPct, &e.Active,
			&e.ParticipatesInTeamClosing, &e.ParticipatesInTargetBonus); err != nil {
			return nil, err
		}
		e.ID = closing.EmployeeID(id)
		e.Role = role.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SALES PERIODS, SERVICE SALES, GOALS (collaborator mirrors)
// =============================================================================

// SaveSalesPeriod inserts or replaces the sales aggregate of a month.
func (s *Store) SaveSalesPeriod(ctx context.Context, p closing.SalesPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := p.Status
	if status == "" {
		status = closing.SalesPeriodOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_periods (reference_month, total_mrr, qualifying_mrr, total_recurring_sales, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_month) DO UPDATE SET
			total_mrr = excluded.total_mrr,
			qualifying_mrr = excluded.qualifying_mrr,
			total_recurring_sales = excluded.total_recurring_sales,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		p.ReferenceMonth.String(), p.TotalMrr, p.QualifyingMrr, p.TotalRecurringSales,
		string(status), formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to save sales period: %w", err)
	}
	return nil
}

func (s *Store) SalesPeriod(ctx context.Context, month closing.Month) (*closing.SalesPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := closing.SalesPeriod{ReferenceMonth: month}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT total_mrr, qualifying_mrr, total_recurring_sales, status
		FROM sales_periods WHERE reference_month = ?
	`, month.String()).Scan(&p.TotalMrr, &p.QualifyingMrr, &p.TotalRecurringSales, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sales period: %w", err)
	}
	p.Status = closing.SalesPeriodStatus(status)
	return &p, nil
}

// SaveServiceSale inserts or replaces a service sale.
func (s *Store) SaveServiceSale(ctx context.Context, sale closing.ServiceSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO service_sales (id, employee_id, period_month, amount, status)
		VALUES (?, ?, ?, ?, ?)
	`, sale.ID, string(sale.EmployeeID), sale.PeriodMonth.String(), sale.Amount, string(sale.Status))
	if err != nil {
		return fmt.Errorf("failed to save service sale: %w", err)
	}
	return nil
}

func (s *Store) ApprovedServiceSales(ctx context.Context, month closing.Month) ([]closing.ServiceSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, amount, status FROM service_sales
		WHERE period_month = ? AND status = ?
		ORDER BY id
	`, month.String(), string(closing.ServiceSaleApproved))
	if err != nil {
		return nil, fmt.Errorf("failed to load service sales: %w", err)
	}
	defer rows.Close()

	var out []closing.ServiceSale
	for rows.Next() {
		sale := closing.ServiceSale{PeriodMonth: month}
		var employeeID, status string
		if err := rows.Scan(&sale.ID, &employeeID, &sale.Amount, &status); err != nil {
			return nil, err
		}
		sale.EmployeeID = closing.EmployeeID(employeeID)
		sale.Status = closing.ServiceSaleStatus(status)
		out = append(out, sale)
	}
	return out, rows.Err()
}

// SaveIndividualGoal inserts or replaces a goal.
func (s *Store) SaveIndividualGoal(ctx context.Context, g closing.IndividualGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO individual_goals (id, employee_id, period_month, description, bonus_value, bonus_kind, achieved)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.ID, string(g.EmployeeID), g.PeriodMonth.String(), g.Description, g.BonusValue, string(g.BonusKind), g.Achieved)
	if err != nil {
		return fmt.Errorf("failed to save individual goal: %w", err)
	}
	return nil
}

func (s *Store) IndividualGoals(ctx context.Context, month closing.Month) ([]closing.IndividualGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, description, bonus_value, bonus_kind, achieved
		FROM individual_goals WHERE period_month = ?
		ORDER BY id
	`, month.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load individual goals: %w", err)
	}
	defer rows.Close()

	var out []closing.IndividualGoal
	for rows.Next() {
		g := closing.IndividualGoal{PeriodMonth: month}
		var employeeID, kind string
		var description sql.NullString
		if err := rows.Scan(&g.ID, &employeeID, &description, &g.BonusValue, &kind, &g.Achieved); err != nil {
			return nil, err
		}
		g.EmployeeID = closing.EmployeeID(employeeID)
		g.Description = description.String
		g.BonusKind = closing.BonusKind(kind)
		out = append(out, g)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ closing.Repository = (*Store)(nil)
