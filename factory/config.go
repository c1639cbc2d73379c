/*
Package factory provides JSON to Go fee-schedule conversion.

PURPOSE:
  Converts JSON program definitions into engine.Program, FeeStructure,
  and WaiverPolicy values. This keeps fee schedules as data rather than
  code - registrars can define programs in JSON and the factory builds
  the proper Go structs, validating the sum invariant on the way in.

JSON SCHEMA:
  {
    "id": "bsc-cs",
    "name": "BSc Computer Science",
    "currency": "UGX",
    "late_fee_percent": 5,
    "plan": "installments",
    "structure": {
      "registration_fee": 5000,
      "block1": 35000,
      "block2": 15000,
      "block3": 0
    },
    "policy": {
      "include_registration_fee": false,
      "overpayment": "clamp",
      "suspension_after_days": 30
    }
  }

  "structure" is optional: programs without one fall back to the
  default-split synthesis. "total" is optional and, when present, must
  satisfy the sum invariant; when absent it is derived.

SEE ALSO:
  - engine/structure.go: Fallback synthesis for structure-less programs
  - engine/policy.go: WaiverPolicy semantics
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/fee-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ProgramJSON struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Currency        string         `json:"currency"`
	CourseFee       float64        `json:"course_fee"`
	RegistrationFee float64        `json:"registration_fee"`
	LateFeePercent  float64        `json:"late_fee_percent"`
	Plan            string         `json:"plan"`
	Structure       *StructureJSON `json:"structure,omitempty"`
	Policy          *PolicyJSON    `json:"policy,omitempty"`
}

type StructureJSON struct {
	RegistrationFee float64  `json:"registration_fee"`
	Block1          float64  `json:"block1"`
	Block2          float64  `json:"block2"`
	Block3          float64  `json:"block3"`
	Total           *float64 `json:"total,omitempty"`
}

type PolicyJSON struct {
	IncludeRegistrationFee bool   `json:"include_registration_fee"`
	Overpayment            string `json:"overpayment"`
	SuspensionAfterDays    int    `json:"suspension_after_days"`
}

// =============================================================================
// FACTORY
// =============================================================================

type ConfigFactory struct{}

func NewConfigFactory() *ConfigFactory { return &ConfigFactory{} }

// ParseProgram converts a JSON definition into a Program, its optional
// explicit FeeStructure, and its WaiverPolicy.
func (f *ConfigFactory) ParseProgram(data []byte) (engine.Program, *engine.FeeStructure, engine.WaiverPolicy, error) {
	var pj ProgramJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return engine.Program{}, nil, engine.WaiverPolicy{}, fmt.Errorf("invalid program JSON: %w", err)
	}
	if pj.ID == "" {
		return engine.Program{}, nil, engine.WaiverPolicy{}, fmt.Errorf("program id is required")
	}

	currency := engine.Currency(pj.Currency)
	if currency == "" {
		currency = engine.CurrencyUGX
	}

	plan := engine.PaymentPlan(pj.Plan)
	if plan == "" {
		plan = engine.PlanInstallments
	}

	program := engine.Program{
		ID:              engine.ProgramID(pj.ID),
		Name:            pj.Name,
		Currency:        currency,
		CourseFee:       engine.NewMoney(pj.CourseFee, currency),
		RegistrationFee: engine.NewMoney(pj.RegistrationFee, currency),
		LateFeePercent:  decimal.NewFromFloat(pj.LateFeePercent),
		Plan:            plan,
	}

	policy := engine.DefaultWaiverPolicy()
	if pj.Policy != nil {
		policy.IncludeRegistrationFee = pj.Policy.IncludeRegistrationFee
		if pj.Policy.Overpayment != "" {
			policy.Overpayment = engine.OverpaymentMode(pj.Policy.Overpayment)
		}
		if pj.Policy.SuspensionAfterDays > 0 {
			policy.SuspensionAfterDays = pj.Policy.SuspensionAfterDays
		}
	}
	switch policy.Overpayment {
	case engine.OverpaymentClamp, engine.OverpaymentCredit:
	default:
		return engine.Program{}, nil, engine.WaiverPolicy{}, fmt.Errorf("unknown overpayment mode %q", policy.Overpayment)
	}

	if pj.Structure == nil {
		return program, nil, policy, nil
	}

	sj := pj.Structure
	registration := engine.NewMoney(sj.RegistrationFee, currency)
	block1 := engine.NewMoney(sj.Block1, currency)
	block2 := engine.NewMoney(sj.Block2, currency)
	block3 := engine.NewMoney(sj.Block3, currency)

	total := registration.Add(block1).Add(block2).Add(block3)
	if sj.Total != nil {
		total = engine.NewMoney(*sj.Total, currency)
	}

	fs, err := engine.NewFeeStructure(
		engine.StructureID(pj.ID+"-v1"),
		program.ID,
		registration, block1, block2, block3, total,
	)
	if err != nil {
		return engine.Program{}, nil, engine.WaiverPolicy{}, err
	}

	// Keep the flat fallback fields consistent with the structure.
	program.RegistrationFee = registration
	program.CourseFee = fs.CourseFee()

	return program, &fs, policy, nil
}
