/*
structure.go - Active fee structure resolution

PURPOSE:
  Answers "what does this program cost?" A program normally has exactly
  one active FeeStructure. Programs created before structured fee
  schedules existed only carry flat CourseFee/RegistrationFee fields;
  for those, a named fallback strategy synthesizes a structure.

FALLBACK:
  The historical default splits the course fee 70%/30% across block1 and
  block2. That split is an implementation convenience, not a business
  rule, so it lives in a SplitStrategy value that deployments can swap
  or disable rather than in inline math.

RESOLUTION:
  The active structure is passed around explicitly from here on. There
  is no cached "current structure" lookup: a program's active structure
  may be swapped between requests.
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SPLIT STRATEGY - Synthesizes a structure from flat program fees
// =============================================================================

// SplitStrategy builds a FeeStructure for a program that has no
// explicitly configured active structure.
type SplitStrategy interface {
	Synthesize(p Program) (FeeStructure, error)
}

// DefaultSplit is the historical fallback: course fee split across two
// blocks, registration fee carried over as-is, block3 unused.
type DefaultSplit struct {
	Block1Share decimal.Decimal
	Block2Share decimal.Decimal
}

// NewDefaultSplit returns the observed 70/30 default.
func NewDefaultSplit() DefaultSplit {
	return DefaultSplit{
		Block1Share: MustParseDecimal("0.7"),
		Block2Share: MustParseDecimal("0.3"),
	}
}

func (d DefaultSplit) Synthesize(p Program) (FeeStructure, error) {
	block1 := p.CourseFee.Mul(d.Block1Share)
	// Derive block2 from the remainder so the sum invariant holds even
	// when the shares don't divide the course fee exactly.
	block2 := p.CourseFee.Sub(block1)
	block3 := p.CourseFee.Zero()
	total := p.RegistrationFee.Add(p.CourseFee)

	return NewFeeStructure(
		StructureID(fmt.Sprintf("%s-default", p.ID)),
		p.ID,
		p.RegistrationFee,
		block1, block2, block3,
		total,
	)
}

// NoFallback disables synthesis: programs without an active structure
// resolve to ErrStructureNotFound.
type NoFallback struct{}

func (NoFallback) Synthesize(p Program) (FeeStructure, error) {
	return FeeStructure{}, fmt.Errorf("program %s: %w", p.ID, ErrStructureNotFound)
}

// =============================================================================
// STRUCTURE RESOLVER
// =============================================================================

// StructureResolver resolves the authoritative fee structure for a
// program: the single active structure, or a synthesized default.
type StructureResolver struct {
	Programs   ProgramStore
	Structures StructureStore
	Fallback   SplitStrategy
}

func NewStructureResolver(programs ProgramStore, structures StructureStore) *StructureResolver {
	return &StructureResolver{
		Programs:   programs,
		Structures: structures,
		Fallback:   NewDefaultSplit(),
	}
}

// Resolve returns the active fee structure for the program.
// Returns ErrProgramNotFound if the program itself is absent.
func (r *StructureResolver) Resolve(ctx context.Context, programID ProgramID) (FeeStructure, error) {
	program, err := r.Programs.GetProgram(ctx, programID)
	if err != nil {
		return FeeStructure{}, err
	}

	fs, err := r.Structures.ActiveStructure(ctx, programID)
	if err == nil {
		return fs, nil
	}
	if !IsNotFound(err) {
		return FeeStructure{}, err
	}

	return r.Fallback.Synthesize(*program)
}
