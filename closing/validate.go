package closing

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT VALIDATION - go-playground/validator with decimal support
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json names so messages match the API payloads.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// Decimals reach the validator as their exact string form; decgte0 and
	// decgt0 check the sign without going through float64.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	mustRegister(v, "decgte0", func(d decimal.Decimal) bool { return d.Sign() >= 0 })
	mustRegister(v, "decgt0", func(d decimal.Decimal) bool { return d.Sign() > 0 })

	return v
}

func mustRegister(v *validator.Validate, tag string, check func(decimal.Decimal) bool) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && check(d)
	})
	if err != nil {
		panic(err)
	}
}

// validateStruct runs the struct tags and converts the first failure to a
// *ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Message: tagMessage(fe)}
}

// ValidateStruct applies the same tag rules to request types defined
// outside this package.
func ValidateStruct(s any) error { return validateStruct(s) }

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	case "decgte0":
		return "must be >= 0"
	case "decgt0":
		return "must be > 0"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}

// =============================================================================
// CONFIG INPUT
// =============================================================================

// ConfigInput is the operator-supplied configuration of a month.
type ConfigInput struct {
	StartingSubscriptions int             `json:"starting_subscriptions" validate:"gte=0"`
	CancellationsCount    int             `json:"cancellations_count" validate:"gte=0"`
	TargetSalesQuantity   int             `json:"target_sales_quantity" validate:"gte=0"`
	ChurnLimit            decimal.Decimal `json:"churn_limit" validate:"decgte0"`
	CancellationLimit     decimal.Decimal `json:"cancellation_limit" validate:"decgte0"`
	ChurnBonusPct         decimal.Decimal `json:"churn_bonus_pct" validate:"decgte0"`
	RetentionBonusPct     decimal.Decimal `json:"retention_bonus_pct" validate:"decgte0"`
	TargetBonusPct        decimal.Decimal `json:"target_bonus_pct" validate:"decgte0"`

	// ParticipantIDs nil means all active employees; non-nil (even empty)
	// is an explicit list.
	ParticipantIDs []EmployeeID `json:"participant_ids"`

	RequireTeamClosingOptIn bool `json:"require_team_closing_opt_in"`
}

// Validate checks the input. Negative counters, thresholds or percentages
// return a *ValidationError.
func (in ConfigInput) Validate() error {
	return validateStruct(in)
}

// ToConfig converts validated input into the immutable Config value.
func (in ConfigInput) ToConfig() Config {
	var sel ParticipantSelection = AllActiveEmployees{}
	if in.ParticipantIDs != nil {
		sel = NewExplicitParticipants(in.ParticipantIDs...)
	}
	return Config{
		Counters: Counters{
			StartingSubscriptions: in.StartingSubscriptions,
			CancellationsCount:    in.CancellationsCount,
			TargetSalesQuantity:   in.TargetSalesQuantity,
		},
		Thresholds: Thresholds{
			ChurnLimit:        in.ChurnLimit,
			CancellationLimit: in.CancellationLimit,
		},
		BonusPercentages: BonusPercentages{
			ChurnBonusPct:     in.ChurnBonusPct,
			RetentionBonusPct: in.RetentionBonusPct,
			TargetBonusPct:    in.TargetBonusPct,
		},
		Participants:            sel,
		RequireTeamClosingOptIn: in.RequireTeamClosingOptIn,
	}
}

// =============================================================================
// ADJUSTMENT INPUT
// =============================================================================

type AdjustmentInput struct {
	Month       Month           `json:"-"`
	EmployeeID  *EmployeeID     `json:"employee_id"`
	Kind        AdjustmentKind  `json:"kind" validate:"required,oneof=credit debit"`
	Amount      decimal.Decimal `json:"amount" validate:"decgt0"`
	Description string          `json:"description" validate:"required"`
	CreatedBy   string          `json:"created_by"`
}

// Validate rejects non-positive amounts, empty descriptions and unknown kinds.
func (in AdjustmentInput) Validate() error {
	in.Description = strings.TrimSpace(in.Description)
	return validateStruct(in)
}
