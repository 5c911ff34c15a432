/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are rendered as strings with two decimals ("1234.50"). Rates and
  percentages keep their stored precision. Requests accept numbers or
  strings for decimal fields.

VALIDATION:
  Request types carry validator struct tags and are checked with
  closing.ValidateStruct before they reach the domain.

SEE ALSO:
  - handlers.go: Uses these types
  - closing/validate.go: ConfigInput and AdjustmentInput (decoded directly)
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/team-closing/closing"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID                        string  `json:"id"`
	Name                      string  `json:"name"`
	Role                      string  `json:"role,omitempty"`
	BaseSalary                string  `json:"base_salary"`
	ServicesCommissionPct     *string `json:"services_commission_pct"`
	EffectiveCommissionPct    string  `json:"effective_commission_pct"`
	Active                    bool    `json:"active"`
	ParticipatesInTeamClosing bool    `json:"participates_in_team_closing"`
	ParticipatesInTargetBonus bool    `json:"participates_in_target_bonus"`
}

type CreateEmployeeRequest struct {
	ID                        string           `json:"id" validate:"required"`
	Name                      string           `json:"name" validate:"required"`
	Role                      string           `json:"role"`
	BaseSalary                decimal.Decimal  `json:"base_salary" validate:"decgte0"`
	ServicesCommissionPct     *decimal.Decimal `json:"services_commission_pct" validate:"omitempty,decgte0"`
	Active                    *bool            `json:"active"`
	ParticipatesInTeamClosing bool             `json:"participates_in_team_closing"`
	ParticipatesInTargetBonus bool             `json:"participates_in_target_bonus"`
}

func (req CreateEmployeeRequest) toEmployee() closing.Employee {
	e := closing.Employee{
		ID:                        closing.EmployeeID(req.ID),
		Name:                      req.Name,
		Role:                      req.Role,
		BaseSalary:                req.BaseSalary,
		Active:                    true,
		ParticipatesInTeamClosing: req.ParticipatesInTeamClosing,
		ParticipatesInTargetBonus: req.ParticipatesInTargetBonus,
	}
	if req.ServicesCommissionPct != nil {
		e.ServicesCommissionPct = decimal.NewNullDecimal(*req.ServicesCommissionPct)
	}
	if req.Active != nil {
		e.Active = *req.Active
	}
	return e
}

func toEmployeeDTO(e closing.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:                        string(e.ID),
		Name:                      e.Name,
		Role:                      e.Role,
		BaseSalary:                money(e.BaseSalary),
		EffectiveCommissionPct:    e.CommissionPct().String(),
		Active:                    e.Active,
		ParticipatesInTeamClosing: e.ParticipatesInTeamClosing,
		ParticipatesInTargetBonus: e.ParticipatesInTargetBonus,
	}
	if e.ServicesCommissionPct.Valid {
		dto.ServicesCommissionPct = strPtr(e.ServicesCommissionPct.Decimal.String())
	}
	return dto
}

// =============================================================================
// COLLABORATOR INPUTS
// =============================================================================

type SalesPeriodRequest struct {
	TotalMrr            decimal.Decimal `json:"total_mrr" validate:"decgte0"`
	QualifyingMrr       decimal.Decimal `json:"qualifying_mrr" validate:"decgte0"`
	TotalRecurringSales int             `json:"total_recurring_sales" validate:"gte=0"`
	Status              string          `json:"status" validate:"omitempty,oneof=open closed"`
}

type SalesPeriodDTO struct {
	ReferenceMonth      string `json:"reference_month"`
	TotalMrr            string `json:"total_mrr"`
	QualifyingMrr       string `json:"qualifying_mrr"`
	TotalRecurringSales int    `json:"total_recurring_sales"`
	Status              string `json:"status"`
}

func toSalesPeriodDTO(p closing.SalesPeriod) SalesPeriodDTO {
	return SalesPeriodDTO{
		ReferenceMonth:      p.ReferenceMonth.String(),
		TotalMrr:            money(p.TotalMrr),
		QualifyingMrr:       money(p.QualifyingMrr),
		TotalRecurringSales: p.TotalRecurringSales,
		Status:              string(p.Status),
	}
}

type ServiceSaleRequest struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id" validate:"required"`
	PeriodMonth string          `json:"period_month" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"decgte0"`
	Status      string          `json:"status" validate:"required,oneof=approved pending rejected"`
}

type IndividualGoalRequest struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id" validate:"required"`
	PeriodMonth string          `json:"period_month" validate:"required"`
	Description string          `json:"description"`
	BonusValue  decimal.Decimal `json:"bonus_value" validate:"decgte0"`
	BonusKind   string          `json:"bonus_kind" validate:"required,oneof=flat percent_of_salary"`
	Achieved    bool            `json:"achieved"`
}

// =============================================================================
// CLOSINGS
// =============================================================================

type ConfigDTO struct {
	StartingSubscriptions   int      `json:"starting_subscriptions"`
	CancellationsCount      int      `json:"cancellations_count"`
	TargetSalesQuantity     int      `json:"target_sales_quantity"`
	ChurnLimit              string   `json:"churn_limit"`
	CancellationLimit       string   `json:"cancellation_limit"`
	ChurnBonusPct           string   `json:"churn_bonus_pct"`
	RetentionBonusPct       string   `json:"retention_bonus_pct"`
	TargetBonusPct          string   `json:"target_bonus_pct"`
	Participants            string   `json:"participants"`
	ParticipantIDs          []string `json:"participant_ids,omitempty"`
	RequireTeamClosingOptIn bool     `json:"require_team_closing_opt_in"`
}

type ClosingDTO struct {
	ID             string     `json:"id"`
	ReferenceMonth string     `json:"reference_month"`
	Status         string     `json:"status"`
	Config         ConfigDTO  `json:"config"`
	AppliedConfig  *ConfigDTO `json:"applied_config,omitempty"`
	ConfigPending  bool       `json:"config_pending"`

	RecurringSalesCount   int    `json:"recurring_sales_count"`
	ChurnRate             string `json:"churn_rate"`
	CancellationRate      string `json:"cancellation_rate"`
	TargetPercent         string `json:"target_percent"`
	MrrForPeriod          string `json:"mrr_for_period"`
	MrrQualifyingForBonus string `json:"mrr_qualifying_for_bonus"`

	ChurnBonusUnlocked     bool `json:"churn_bonus_unlocked"`
	RetentionBonusUnlocked bool `json:"retention_bonus_unlocked"`
	TargetBonusUnlocked    bool `json:"target_bonus_unlocked"`

	TargetBonusPoolTotal      string `json:"target_bonus_pool_total"`
	ParticipantCount          int    `json:"participant_count"`
	TargetBonusPerParticipant string `json:"target_bonus_per_participant"`

	CalculatedAt *time.Time `json:"calculated_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toConfigDTO(cfg closing.Config) ConfigDTO {
	cdto := ConfigDTO{
		StartingSubscriptions:   cfg.StartingSubscriptions,
		CancellationsCount:      cfg.CancellationsCount,
		TargetSalesQuantity:     cfg.TargetSalesQuantity,
		ChurnLimit:              cfg.ChurnLimit.String(),
		CancellationLimit:       cfg.CancellationLimit.String(),
		ChurnBonusPct:           cfg.ChurnBonusPct.String(),
		RetentionBonusPct:       cfg.RetentionBonusPct.String(),
		TargetBonusPct:          cfg.TargetBonusPct.String(),
		Participants:            closing.SelectionAllActive,
		RequireTeamClosingOptIn: cfg.RequireTeamClosingOptIn,
	}
	if cfg.Participants != nil {
		cdto.Participants = cfg.Participants.Kind()
	}
	if explicit, ok := cfg.Participants.(closing.ExplicitParticipants); ok {
		cdto.ParticipantIDs = make([]string, len(explicit.IDs))
		for i, id := range explicit.IDs {
			cdto.ParticipantIDs[i] = string(id)
		}
	}
	return cdto
}

func toClosingDTO(tc closing.TeamClosing) ClosingDTO {
	var applied *ConfigDTO
	if tc.AppliedConfig != nil {
		a := toConfigDTO(*tc.AppliedConfig)
		applied = &a
	}

	return ClosingDTO{
		ID:                        string(tc.ID),
		ReferenceMonth:            tc.ReferenceMonth.String(),
		Status:                    string(tc.Status),
		Config:                    toConfigDTO(tc.Config),
		AppliedConfig:             applied,
		ConfigPending:             tc.HasPendingConfig(),
		RecurringSalesCount:       tc.RecurringSalesCount,
		ChurnRate:                 rate(tc.ChurnRate),
		CancellationRate:          rate(tc.CancellationRate),
		TargetPercent:             rate(tc.TargetPercent),
		MrrForPeriod:              money(tc.MrrForPeriod),
		MrrQualifyingForBonus:     money(tc.MrrQualifyingForBonus),
		ChurnBonusUnlocked:        tc.ChurnBonusUnlocked,
		RetentionBonusUnlocked:    tc.RetentionBonusUnlocked,
		TargetBonusUnlocked:       tc.TargetBonusUnlocked,
		TargetBonusPoolTotal:      money(tc.TargetBonusPoolTotal),
		ParticipantCount:          tc.ParticipantCount,
		TargetBonusPerParticipant: money(tc.TargetBonusPerParticipant),
		CalculatedAt:              tc.CalculatedAt,
		CreatedAt:                 tc.CreatedAt,
		UpdatedAt:                 tc.UpdatedAt,
	}
}

type LineDTO struct {
	ID                         string `json:"id"`
	EmployeeID                 string `json:"employee_id"`
	ChurnBonusAmount           string `json:"churn_bonus_amount"`
	RetentionBonusAmount       string `json:"retention_bonus_amount"`
	TargetBonusAmount          string `json:"target_bonus_amount"`
	SubtotalSalaryBonuses      string `json:"subtotal_salary_bonuses"`
	ServiceSalesCount          int    `json:"service_sales_count"`
	ServiceSalesTotal          string `json:"service_sales_total"`
	ServiceCommissionPct       string `json:"service_commission_pct"`
	ServiceCommissionAmount    string `json:"service_commission_amount"`
	IndividualGoalsCount       int    `json:"individual_goals_count"`
	IndividualGoalsMet         int    `json:"individual_goals_met"`
	IndividualGoalsBonusAmount string `json:"individual_goals_bonus_amount"`
	TotalPayable               string `json:"total_payable"`
	EffectivePayable           string `json:"effective_payable"`
}

func toLineDTO(l closing.EmployeeClosingLine, adjs []closing.Adjustment) LineDTO {
	return LineDTO{
		ID:                         string(l.ID),
		EmployeeID:                 string(l.EmployeeID),
		ChurnBonusAmount:           money(l.ChurnBonusAmount),
		RetentionBonusAmount:       money(l.RetentionBonusAmount),
		TargetBonusAmount:          money(l.TargetBonusAmount),
		SubtotalSalaryBonuses:      money(l.SubtotalSalaryBonuses),
		ServiceSalesCount:          l.ServiceSalesCount,
		ServiceSalesTotal:          money(l.ServiceSalesTotal),
		ServiceCommissionPct:       l.ServiceCommissionPct.String(),
		ServiceCommissionAmount:    money(l.ServiceCommissionAmount),
		IndividualGoalsCount:       l.IndividualGoalsCount,
		IndividualGoalsMet:         l.IndividualGoalsMet,
		IndividualGoalsBonusAmount: money(l.IndividualGoalsBonusAmount),
		TotalPayable:               money(l.TotalPayable),
		EffectivePayable:           money(closing.EffectivePayable(l, adjs)),
	}
}

type TotalsDTO struct {
	TotalPayable       string `json:"total_payable"`
	Credits            string `json:"credits"`
	Debits             string `json:"debits"`
	GeneralAdjustments string `json:"general_adjustments"`
	GrandTotal         string `json:"grand_total"`
}

// ClosingDetailResponse is a closing with its lines, adjustments and totals.
type ClosingDetailResponse struct {
	Closing     ClosingDTO      `json:"closing"`
	Lines       []LineDTO       `json:"lines"`
	Adjustments []AdjustmentDTO `json:"adjustments"`
	Totals      TotalsDTO       `json:"totals"`
}

func toClosingDetail(v closing.ClosingView) ClosingDetailResponse {
	resp := ClosingDetailResponse{
		Closing:     toClosingDTO(v.Closing),
		Lines:       make([]LineDTO, len(v.Lines)),
		Adjustments: toAdjustmentDTOs(v.Adjustments),
		Totals: TotalsDTO{
			TotalPayable:       money(v.Totals.TotalPayable),
			Credits:            money(v.Totals.Credits),
			Debits:             money(v.Totals.Debits),
			GeneralAdjustments: money(v.Totals.GeneralAdjustments),
			GrandTotal:         money(v.Totals.GrandTotal),
		},
	}
	for i, l := range v.Lines {
		resp.Lines[i] = toLineDTO(l, v.Adjustments)
	}
	return resp
}

type RecomputeManyRequest struct {
	Months []string `json:"months" validate:"required,min=1,max=24"`
}

type RecomputeOutcomeDTO struct {
	Month   string      `json:"month"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Closing *ClosingDTO `json:"closing,omitempty"`
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentDTO struct {
	ID          string    `json:"id"`
	ClosingID   string    `json:"closing_id"`
	EmployeeID  *string   `json:"employee_id"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Signed      string    `json:"signed_amount"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAdjustmentDTO(a closing.Adjustment) AdjustmentDTO {
	dto := AdjustmentDTO{
		ID:          string(a.ID),
		ClosingID:   string(a.ClosingID),
		Kind:        string(a.Kind),
		Amount:      money(a.Amount),
		Signed:      money(a.Signed()),
		Description: a.Description,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
	}
	if a.EmployeeID != nil {
		dto.EmployeeID = strPtr(string(*a.EmployeeID))
	}
	return dto
}

func toAdjustmentDTOs(adjs []closing.Adjustment) []AdjustmentDTO {
	out := make([]AdjustmentDTO, len(adjs))
	for i, a := range adjs {
		out[i] = toAdjustmentDTO(a)
	}
	return out
}

// =============================================================================
// STATEMENTS
// =============================================================================

type StatementItemDTO struct {
	Label  string `json:"label"`
	Gate   string `json:"gate"`
	Basis  string `json:"basis"`
	Amount string `json:"amount"`
}

type StatementDTO struct {
	Month                 string             `json:"month"`
	ClosingID             string             `json:"closing_id"`
	EmployeeID            string             `json:"employee_id"`
	EmployeeName          string             `json:"employee_name"`
	Role                  string             `json:"role,omitempty"`
	BaseSalary            string             `json:"base_salary"`
	Status                string             `json:"status"`
	ConfigPending         bool               `json:"config_pending"`
	ChurnRate             string             `json:"churn_rate"`
	CancellationRate      string             `json:"cancellation_rate"`
	TargetPercent         string             `json:"target_percent"`
	SalaryBonuses         []StatementItemDTO `json:"salary_bonuses"`
	SubtotalSalaryBonuses string             `json:"subtotal_salary_bonuses"`
	ServiceCommission     StatementItemDTO   `json:"service_commission"`
	IndividualGoals       StatementItemDTO   `json:"individual_goals"`
	TotalPayable          string             `json:"total_payable"`
	Adjustments           []AdjustmentDTO    `json:"adjustments"`
	AdjustmentsTotal      string             `json:"adjustments_total"`
	EffectivePayable      string             `json:"effective_payable"`
}

func toStatementItemDTO(it closing.StatementItem) StatementItemDTO {
	return StatementItemDTO{Label: it.Label, Gate: string(it.Gate), Basis: it.Basis, Amount: money(it.Amount)}
}

func toStatementDTO(s closing.Statement) StatementDTO {
	dto := StatementDTO{
		Month:                 s.Month.String(),
		ClosingID:             string(s.ClosingID),
		EmployeeID:            string(s.EmployeeID),
		EmployeeName:          s.EmployeeName,
		Role:                  s.Role,
		BaseSalary:            money(s.BaseSalary),
		Status:                string(s.Status),
		ConfigPending:         s.ConfigPending,
		ChurnRate:             rate(s.ChurnRate),
		CancellationRate:      rate(s.CancellationRate),
		TargetPercent:         rate(s.TargetPercent),
		SalaryBonuses:         make([]StatementItemDTO, len(s.SalaryBonuses)),
		SubtotalSalaryBonuses: money(s.SubtotalSalaryBonuses),
		ServiceCommission:     toStatementItemDTO(s.ServiceCommission),
		IndividualGoals:       toStatementItemDTO(s.IndividualGoals),
		TotalPayable:          money(s.TotalPayable),
		Adjustments:           toAdjustmentDTOs(s.Adjustments),
		AdjustmentsTotal:      money(s.AdjustmentsTotal),
		EffectivePayable:      money(s.EffectivePayable),
	}
	for i, it := range s.SalaryBonuses {
		dto.SalaryBonuses[i] = toStatementItemDTO(it)
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func rate(d decimal.Decimal) string { return d.Round(4).String() }

func strPtr(s string) *string {
	return &s
}
