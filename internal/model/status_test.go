package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanningStatus(t *testing.T) {
	tests := []struct {
		in   string
		want PlanningStatus
	}{
		{"declared", PlanningDeclared},
		{"Pre-Deposit", PlanningPreDeposit},
		{"pre_deposit", PlanningPreDeposit},
		{"  Deposited ", PlanningDeposited},
		{"approved for deposit", PlanningDeposited},
		{"plan approved by district committee", PlanningApproved},
		{"under construction", PlanningConstruction},
		{"building permit issued", PlanningPermit},
		{"early planning stages", PlanningPlanning},
		{"pre-deposit review", PlanningPreDeposit},
		{"deposited for objections", PlanningDeposited},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlanningStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlanningStatus_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "   ", "banana",
		"not yet approved",
		"awaiting approval",
		"approval pending",
		"before deposit",
		"prior to deposit",
		"pre-approval",
		"permit not yet requested",
		"building permit requested",
		"no construction",
		"expected to reach construction in 2027",
	} {
		_, err := ParsePlanningStatus(in)
		assert.ErrorIs(t, err, ErrInvalidStatus, in)
	}
}

func TestPlanningStatus_Stage(t *testing.T) {
	assert.Equal(t, 0, PlanningDeclared.Stage())
	assert.Equal(t, 6, PlanningPermit.Stage())
	assert.Equal(t, -1, PlanningStatus("other").Stage())
}

func TestParseCommitteeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want CommitteeStatus
	}{
		{"", DecisionNotDiscussed},
		{"null", DecisionNotDiscussed},
		{"not_discussed", DecisionNotDiscussed},
		{"Pending", DecisionPending},
		{"postponed", DecisionDeferred},
		{"APPROVED", DecisionApproved},
		{"approved with conditions", DecisionApproved},
		{"rejected", DecisionRejected},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommitteeStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseCommitteeStatus("maybe later")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParseCommitteeLevel(t *testing.T) {
	lvl, err := ParseCommitteeLevel("Regional")
	require.NoError(t, err)
	assert.Equal(t, CommitteeDistrict, lvl)

	_, err = ParseCommitteeLevel("supreme")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStandard, m)

	m, err = ParseMode("FULL")
	require.NoError(t, err)
	assert.True(t, m.Deep())
	assert.True(t, m.UsesValidation())
	assert.False(t, ModeFast.UsesValidation())

	_, err = ParseMode("turbo")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParseAlertType(t *testing.T) {
	at, err := ParseAlertType("committee_approval")
	require.NoError(t, err)
	assert.Equal(t, AlertCommitteeApproval, at)
	assert.True(t, at.Deduplicated())
	assert.False(t, AlertNewEntity.Deduplicated())

	_, err = ParseAlertType("sms")
	assert.Error(t, err)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" HOT ")
	require.NoError(t, err)
	assert.Equal(t, TierHot, tier)

	_, err = ParseTier("lukewarm")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCommitteeState_SetApprovedAtNeverOverwrites(t *testing.T) {
	var st CommitteeState
	first := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, st.SetApprovedAt(CommitteeLocal, first))
	assert.False(t, st.SetApprovedAt(CommitteeLocal, first.AddDate(0, 1, 0)))
	require.NotNil(t, st.ApprovedAt(CommitteeLocal))
	assert.Equal(t, first, *st.ApprovedAt(CommitteeLocal))
	assert.Nil(t, st.ApprovedAt(CommitteeDistrict))
}

func TestEntityPatch_Apply(t *testing.T) {
	e := Entity{Name: "Central Block", ExistingUnits: 30}
	assert.True(t, EntityPatch{}.Empty())

	planned := 120
	status := PlanningDeposited
	premium := 45.0
	p := EntityPatch{PlannedUnits: &planned, Status: &status, TheoreticalPremiumPct: &premium}
	assert.False(t, p.Empty())

	p.Apply(&e)
	assert.Equal(t, 120, e.PlannedUnits)
	assert.Equal(t, 30, e.ExistingUnits)
	assert.Equal(t, PlanningDeposited, e.Status)
	require.NotNil(t, e.TheoreticalPremiumPct)
	assert.InDelta(t, 45.0, *e.TheoreticalPremiumPct, 0.001)
	assert.InDelta(t, 4.0, e.Multiplier(), 0.001)
}

func TestSummary_Record(t *testing.T) {
	var s Summary
	s.Record(ItemResult{EntityID: 1, Status: ItemSucceeded})
	s.Record(ItemResult{EntityID: 2, Status: ItemFailed, Error: "boom"})
	s.Record(ItemResult{EntityID: 3, Status: ItemSkipped})
	assert.Equal(t, 3, s.Scanned)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Len(t, s.Details, 3)
}

func TestSummary_Merge(t *testing.T) {
	a := Summary{Scanned: 1, Succeeded: 1, Details: []ItemResult{{EntityID: 1, Status: ItemSucceeded}}}
	var b Summary
	b.Record(ItemResult{EntityID: 2, Status: ItemFailed})
	b.Record(ItemResult{EntityID: 3, Status: ItemSkipped})
	a.Merge(b)
	assert.Equal(t, 3, a.Scanned)
	assert.Equal(t, 1, a.Succeeded)
	assert.Equal(t, 1, a.Failed)
	assert.Equal(t, 1, a.Skipped)
	assert.Len(t, a.Details, 3)
}
