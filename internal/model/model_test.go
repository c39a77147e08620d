package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func period(startDay, endDay int) Period {
	return Period{
		Start: time.Date(2026, 1, startDay, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, endDay, 0, 0, 0, 0, time.UTC),
	}
}

func TestPeriod_Overlaps(t *testing.T) {
	assert.True(t, period(1, 10).Overlaps(period(5, 15)))
	assert.True(t, period(5, 15).Overlaps(period(1, 10)))
	assert.True(t, period(1, 10).Overlaps(period(10, 20))) // inclusive endpoints
	assert.True(t, period(1, 31).Overlaps(period(10, 12))) // containment
	assert.False(t, period(1, 10).Overlaps(period(11, 20)))
}

func TestAllocationStatus_CanTransition(t *testing.T) {
	assert.True(t, AllocationDraft.CanTransition(AllocationProvisional))
	assert.True(t, AllocationDraft.CanTransition(AllocationApproved))
	assert.True(t, AllocationProvisional.CanTransition(AllocationVerified))
	assert.False(t, AllocationVerified.CanTransition(AllocationDraft))
	assert.False(t, AllocationApproved.CanTransition(AllocationApproved))
	assert.False(t, AllocationStatus("bogus").CanTransition(AllocationVerified))
	assert.False(t, AllocationDraft.CanTransition(AllocationStatus("bogus")))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestLineItemCategory_HybridEligible(t *testing.T) {
	assert.True(t, CategoryEnergy.HybridEligible())
	assert.True(t, CategoryTransport.HybridEligible())
	assert.True(t, CategoryCommuting.HybridEligible())
	assert.False(t, CategoryWaste.HybridEligible())
	assert.False(t, CategoryMaterial.HybridEligible())
}

func TestImpactVector_Clone(t *testing.T) {
	v := ImpactVector{ImpactClimate: 1.0}
	c := v.Clone()
	c[ImpactClimate] = 2.0
	c[ImpactWater] = 3.0

	assert.Equal(t, 1.0, v[ImpactClimate])
	assert.NotContains(t, v, ImpactWater)
}

func TestScopeReported(t *testing.T) {
	assert.False(t, FacilityPeriodTotals{}.ScopeReported())
	assert.True(t, FacilityPeriodTotals{Scope2: 100}.ScopeReported())
}
