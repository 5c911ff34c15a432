/*
config.go - Immutable per-month closing configuration

PURPOSE:
  The monthly target configuration (operator-entered counters, gate
  thresholds, bonus percentages, participant selection) is a plain value.
  It is loaded once per recompute and passed explicitly into every
  calculation; nothing reads it from ambient state.

PARTICIPANT SELECTION:
  Modeled as a tagged variant instead of a nullable list:

    AllActiveEmployees{}            -> every employee in the working set
    ExplicitParticipants{IDs: ...}  -> working set filtered to those ids

  An explicit list with zero ids is a valid selection: nobody shares the
  target pool.

SEE ALSO:
  - validate.go: Struct-tag validation of ConfigInput
  - pool.go: ResolveParticipants consumes the selection
*/
package closing

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	Counters
	Thresholds
	BonusPercentages

	Participants ParticipantSelection

	// RequireTeamClosingOptIn restricts the working set to employees with
	// ParticipatesInTeamClosing set.
	RequireTeamClosingOptIn bool
}

// Counters are the operator-entered counts not carried by the sales period.
type Counters struct {
	StartingSubscriptions int
	CancellationsCount    int
	TargetSalesQuantity   int
}

// Thresholds are ceilings in percent; a gate unlocks strictly below them.
type Thresholds struct {
	ChurnLimit        decimal.Decimal
	CancellationLimit decimal.Decimal
}

type BonusPercentages struct {
	ChurnBonusPct     decimal.Decimal
	RetentionBonusPct decimal.Decimal
	TargetBonusPct    decimal.Decimal
}

// DefaultConfig is used when a month is recomputed before being configured.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			ChurnLimit:        decimal.NewFromInt(5),
			CancellationLimit: decimal.NewFromInt(5),
		},
		BonusPercentages: BonusPercentages{
			ChurnBonusPct:     decimal.Zero,
			RetentionBonusPct: decimal.Zero,
			TargetBonusPct:    decimal.Zero,
		},
		Participants: AllActiveEmployees{},
	}
}

// Equal compares configs by value. Decimals compare numerically and explicit
// participant lists by their sorted ids.
func (c Config) Equal(o Config) bool {
	if c.Counters != o.Counters || c.RequireTeamClosingOptIn != o.RequireTeamClosingOptIn {
		return false
	}
	if !c.ChurnLimit.Equal(o.ChurnLimit) || !c.CancellationLimit.Equal(o.CancellationLimit) {
		return false
	}
	if !c.ChurnBonusPct.Equal(o.ChurnBonusPct) ||
		!c.RetentionBonusPct.Equal(o.RetentionBonusPct) ||
		!c.TargetBonusPct.Equal(o.TargetBonusPct) {
		return false
	}
	return selectionEqual(c.Participants, o.Participants)
}

func selectionEqual(a, b ParticipantSelection) bool {
	if a == nil {
		a = AllActiveEmployees{}
	}
	if b == nil {
		b = AllActiveEmployees{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ea, okA := a.(ExplicitParticipants)
	eb, okB := b.(ExplicitParticipants)
	if !okA || !okB {
		return okA == okB
	}
	if len(ea.IDs) != len(eb.IDs) {
		return false
	}
	for i := range ea.IDs {
		if ea.IDs[i] != eb.IDs[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// PARTICIPANT SELECTION - Tagged variant
// =============================================================================

// ParticipantSelection decides who shares the target bonus pool.
type ParticipantSelection interface {
	// Includes reports whether the employee is selected.
	Includes(id EmployeeID) bool
	// Kind is the stable tag used for persistence and display.
	Kind() string
	isParticipantSelection()
}

const (
	SelectionAllActive = "all_active"
	SelectionExplicit  = "explicit"
)

// AllActiveEmployees selects every employee in the working set.
type AllActiveEmployees struct{}

func (AllActiveEmployees) Includes(EmployeeID) bool { return true }
func (AllActiveEmployees) Kind() string             { return SelectionAllActive }
func (AllActiveEmployees) isParticipantSelection()  {}

// ExplicitParticipants selects only the listed employees.
type ExplicitParticipants struct {
	IDs []EmployeeID
}

func NewExplicitParticipants(ids ...EmployeeID) ExplicitParticipants {
	seen := make(map[EmployeeID]bool, len(ids))
	out := make([]EmployeeID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return ExplicitParticipants{IDs: out}
}

func (p ExplicitParticipants) Includes(id EmployeeID) bool {
	for _, x := range p.IDs {
		if x == id {
			return true
		}
	}
	return false
}

func (ExplicitParticipants) Kind() string            { return SelectionExplicit }
func (ExplicitParticipants) isParticipantSelection() {}

// selectionJSON is the persisted shape of a ParticipantSelection.
type selectionJSON struct {
	Kind string       `json:"kind"`
	IDs  []EmployeeID `json:"ids,omitempty"`
}

// MarshalSelection encodes a selection for storage. Nil encodes as all-active.
func MarshalSelection(s ParticipantSelection) ([]byte, error) {
	switch v := s.(type) {
	case nil, AllActiveEmployees:
		return json.Marshal(selectionJSON{Kind: SelectionAllActive})
	case ExplicitParticipants:
		ids := v.IDs
		if ids == nil {
			ids = []EmployeeID{}
		}
		return json.Marshal(selectionJSON{Kind: SelectionExplicit, IDs: ids})
	default:
		return nil, fmt.Errorf("unknown participant selection %T", s)
	}
}

// UnmarshalSelection decodes a stored selection. Empty input is all-active.
func UnmarshalSelection(data []byte) (ParticipantSelection, error) {
	if len(data) == 0 {
		return AllActiveEmployees{}, nil
	}
	var raw selectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode participant selection: %w", err)
	}
	switch raw.Kind {
	case SelectionAllActive, "":
		return AllActiveEmployees{}, nil
	case SelectionExplicit:
		return NewExplicitParticipants(raw.IDs...), nil
	default:
		return nil, fmt.Errorf("unknown participant selection kind %q", raw.Kind)
	}
}

// =============================================================================
// CONFIG ENCODING - Persisted snapshot of an applied config
// =============================================================================

type configJSON struct {
	StartingSubscriptions   int             `json:"starting_subscriptions"`
	CancellationsCount      int             `json:"cancellations_count"`
	TargetSalesQuantity     int             `json:"target_sales_quantity"`
	ChurnLimit              decimal.Decimal `json:"churn_limit"`
	CancellationLimit       decimal.Decimal `json:"cancellation_limit"`
	ChurnBonusPct           decimal.Decimal `json:"churn_bonus_pct"`
	RetentionBonusPct       decimal.Decimal `json:"retention_bonus_pct"`
	TargetBonusPct          decimal.Decimal `json:"target_bonus_pct"`
	Participants            json.RawMessage `json:"participants"`
	RequireTeamClosingOptIn bool            `json:"require_team_closing_opt_in"`
}

// MarshalConfig encodes a whole config, selection included.
func MarshalConfig(c Config) ([]byte, error) {
	sel, err := MarshalSelection(c.Participants)
	if err != nil {
		return nil, err
	}
	return json.Marshal(configJSON{
		StartingSubscriptions:   c.StartingSubscriptions,
		CancellationsCount:      c.CancellationsCount,
		TargetSalesQuantity:     c.TargetSalesQuantity,
		ChurnLimit:              c.ChurnLimit,
		CancellationLimit:       c.CancellationLimit,
		ChurnBonusPct:           c.ChurnBonusPct,
		RetentionBonusPct:       c.RetentionBonusPct,
		TargetBonusPct:          c.TargetBonusPct,
		Participants:            sel,
		RequireTeamClosingOptIn: c.RequireTeamClosingOptIn,
	})
}

// UnmarshalConfig decodes a config written by MarshalConfig.
func UnmarshalConfig(data []byte) (Config, error) {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("decode closing config: %w", err)
	}
	sel, err := UnmarshalSelection(raw.Participants)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Counters: Counters{
			StartingSubscriptions: raw.StartingSubscriptions,
			CancellationsCount:    raw.CancellationsCount,
			TargetSalesQuantity:   raw.TargetSalesQuantity,
		},
		Thresholds: Thresholds{
			ChurnLimit:        raw.ChurnLimit,
			CancellationLimit: raw.CancellationLimit,
		},
		BonusPercentages: BonusPercentages{
			ChurnBonusPct:     raw.ChurnBonusPct,
			RetentionBonusPct: raw.RetentionBonusPct,
			TargetBonusPct:    raw.TargetBonusPct,
		},
		Participants:            sel,
		RequireTeamClosingOptIn: raw.RequireTeamClosingOptIn,
	}, nil
}
