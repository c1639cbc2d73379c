package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/fee-engine/engine"
)

// =============================================================================
// WAIVER TEST HELPERS
// =============================================================================

func approvedWaiver(id string, typ engine.WaiverType, value string, decidedAt time.Time) engine.Waiver {
	return engine.Waiver{
		ID:           engine.WaiverID(id),
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         typ,
		Value:        engine.MustParseDecimal(value),
		Status:       engine.WaiverApproved,
		DecidedAt:    &decidedAt,
	}
}

// =============================================================================
// PERCENTAGE WAIVERS
// =============================================================================

func TestAdjust_Percentage_RegistrationIncluded(t *testing.T) {
	// GIVEN: {reg 5000, b1 35000, b2 15000, b3 0, total 55000}
	// WHEN: a 50% waiver applies under a policy that includes the
	//       registration fee
	// THEN: every field is halved

	fs := testStructure(t)
	policy := engine.DefaultWaiverPolicy()
	policy.IncludeRegistrationFee = true

	adj := engine.AdjustForWaivers(fs,
		[]engine.Waiver{approvedWaiver("wv-1", engine.WaiverPercentage, "50", feb1)},
		policy, mar1)

	assert.True(t, ugx(2500).Value.Equal(adj.RegistrationFee.Value))
	assert.True(t, ugx(17500).Value.Equal(adj.Block1.Value))
	assert.True(t, ugx(7500).Value.Equal(adj.Block2.Value))
	assert.True(t, adj.Block3.IsZero())
	assert.True(t, ugx(27500).Value.Equal(adj.Total.Value))
	assert.Equal(t, []engine.WaiverID{"wv-1"}, adj.AppliedWaivers)
}

func TestAdjust_Percentage_RegistrationExcluded(t *testing.T) {
	// Default policy: only the course portion (50000) is discounted;
	// the 5000 registration fee rides through unchanged.

	fs := testStructure(t)
	adj := engine.AdjustForWaivers(fs,
		[]engine.Waiver{approvedWaiver("wv-1", engine.WaiverPercentage, "50", feb1)},
		engine.DefaultWaiverPolicy(), mar1)

	assert.True(t, ugx(5000).Value.Equal(adj.RegistrationFee.Value), "registration fee is not waiver-eligible")
	assert.True(t, ugx(17500).Value.Equal(adj.Block1.Value))
	assert.True(t, ugx(7500).Value.Equal(adj.Block2.Value))
	assert.True(t, ugx(30000).Value.Equal(adj.Total.Value), "5000 + 50% of 50000")
}

func TestAdjust_Percentage_Compose(t *testing.T) {
	// Two 50% waivers leave 25% of the course fee, not zero. Approval
	// order is the composition order.

	fs := testStructure(t)
	waivers := []engine.Waiver{
		approvedWaiver("wv-2", engine.WaiverPercentage, "50", mar1),
		approvedWaiver("wv-1", engine.WaiverPercentage, "50", feb1),
	}
	adj := engine.AdjustForWaivers(fs, waivers, engine.DefaultWaiverPolicy(), apr1)

	assert.True(t, ugx(8750).Value.Equal(adj.Block1.Value), "35000 * 0.5 * 0.5")
	assert.True(t, ugx(17500).Value.Equal(adj.Total.Value), "5000 + 50000 * 0.25")
	assert.Equal(t, []engine.WaiverID{"wv-1", "wv-2"}, adj.AppliedWaivers,
		"earliest approval applies first")
}

// =============================================================================
// FIXED AND FULL WAIVERS
// =============================================================================

func TestAdjust_FixedAmount_ReducesTotalOnly(t *testing.T) {
	fs := testStructure(t)
	adj := engine.AdjustForWaivers(fs,
		[]engine.Waiver{approvedWaiver("wv-1", engine.WaiverFixedAmount, "10000", feb1)},
		engine.DefaultWaiverPolicy(), mar1)

	assert.True(t, ugx(45000).Value.Equal(adj.Total.Value))
	assert.True(t, ugx(35000).Value.Equal(adj.Block1.Value), "block fields untouched")
	assert.True(t, ugx(15000).Value.Equal(adj.Block2.Value))
	assert.True(t, ugx(5000).Value.Equal(adj.RegistrationFee.Value))
}

func TestAdjust_FixedAmount_ClampsAtZero(t *testing.T) {
	fs := testStructure(t)
	adj := engine.AdjustForWaivers(fs,
		[]engine.Waiver{approvedWaiver("wv-1", engine.WaiverFixedAmount, "99999", feb1)},
		engine.DefaultWaiverPolicy(), mar1)

	assert.True(t, adj.Total.IsZero(), "never negative")
}

func TestAdjust_Percentage_NeverRaisesTotal(t *testing.T) {
	// GIVEN: a fixed waiver already pushed the total below the
	//        registration fee
	// WHEN: a later percentage waiver applies without touching the
	//       registration fee
	// THEN: the total stays where the fixed waiver left it

	fs := testStructure(t)
	waivers := []engine.Waiver{
		approvedWaiver("wv-1", engine.WaiverFixedAmount, "51000", feb1),
		approvedWaiver("wv-2", engine.WaiverPercentage, "50", mar1),
	}
	adj := engine.AdjustForWaivers(fs, waivers, engine.DefaultWaiverPolicy(), apr1)

	assert.True(t, ugx(4000).Value.Equal(adj.Total.Value),
		"waiver application is non-increasing")
}

func TestAdjust_FullWaiver_ZerosEverything(t *testing.T) {
	fs := testStructure(t)
	adj := engine.AdjustForWaivers(fs,
		[]engine.Waiver{approvedWaiver("wv-1", engine.WaiverFull, "0", feb1)},
		engine.DefaultWaiverPolicy(), mar1)

	assert.True(t, adj.RegistrationFee.IsZero())
	assert.True(t, adj.Block1.IsZero())
	assert.True(t, adj.Block2.IsZero())
	assert.True(t, adj.Block3.IsZero())
	assert.True(t, adj.Total.IsZero())
}

// =============================================================================
// APPLICABILITY
// =============================================================================

func TestAdjust_SkipsNonApprovedAndExpired(t *testing.T) {
	fs := testStructure(t)
	expiry := feb1

	pending := approvedWaiver("wv-pending", engine.WaiverPercentage, "50", feb1)
	pending.Status = engine.WaiverPending
	pending.DecidedAt = nil

	rejected := approvedWaiver("wv-rejected", engine.WaiverPercentage, "50", feb1)
	rejected.Status = engine.WaiverRejected

	lapsed := approvedWaiver("wv-lapsed", engine.WaiverPercentage, "50", feb1)
	lapsed.ExpiryDate = &expiry

	adj := engine.AdjustForWaivers(fs,
		[]engine.Waiver{pending, rejected, lapsed},
		engine.DefaultWaiverPolicy(), apr1)

	assert.Empty(t, adj.AppliedWaivers)
	assert.True(t, ugx(55000).Value.Equal(adj.Total.Value), "structure unchanged")
}

func TestExpireWaivers(t *testing.T) {
	// GIVEN: an approved waiver expiring Feb 1 and one with no expiry
	// WHEN: swept on April 1
	// THEN: only the dated one comes back, flipped to expired

	expiry := feb1
	lapsed := approvedWaiver("wv-lapsed", engine.WaiverPercentage, "50", feb1)
	lapsed.ExpiryDate = &expiry
	open := approvedWaiver("wv-open", engine.WaiverPercentage, "25", feb1)

	expired := engine.ExpireWaivers([]engine.Waiver{lapsed, open}, apr1)

	require.Len(t, expired, 1)
	assert.Equal(t, engine.WaiverID("wv-lapsed"), expired[0].ID)
	assert.Equal(t, engine.WaiverExpired, expired[0].Status)
}
