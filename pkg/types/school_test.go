package types_test

import (
	"strings"
	"testing"

	"github.com/scrypster/schoolintel/pkg/types"
	"github.com/stretchr/testify/assert"
)

func thomasCoram() *types.School {
	return &types.School{
		URN:        "100005",
		Name:       "Thomas Coram Centre",
		LAName:     "Camden",
		Type:       "Local authority nursery school",
		Phase:      "Nursery",
		Address1:   "49 Mecklenburgh Square",
		Town:       "London",
		Postcode:   "WC1N 2NY",
		PupilCount: 116,
		Headteacher: &types.Contact{
			FullName: "Ms Perina Holness",
			Role:     types.ContactRoleHeadteacher,
		},
		Financial: &types.FinancialData{
			TotalTeachingSupportSpendPerPupil: "Spends £16,067 per pupil (High priority!)",
			ComparisonToOtherSchools:          "Spending is higher than 96.7% of similar schools",
			AgencySupplyCosts:                 "£102 per pupil",
		},
	}
}

func TestFinancialData_AgencySpendPerPupil(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   float64
		wantOK bool
	}{
		{"simple", "£102 per pupil", 102, true},
		{"thousands separator", "£1,250.50 per pupil", 1250.5, true},
		{"space after symbol", "£ 40", 40, true},
		{"zero", "£0 per pupil", 0, true},
		{"no amount", "not reported", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &types.FinancialData{AgencySupplyCosts: tt.raw}
			got, ok := f.AgencySpendPerPupil()
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestFinancialData_NilSafe(t *testing.T) {
	var f *types.FinancialData
	assert.True(t, f.IsEmpty())
	assert.False(t, f.HasAgencySpend())
	_, ok := f.ComparisonPercentile()
	assert.False(t, ok)
}

func TestSchool_SalesPriority(t *testing.T) {
	tests := []struct {
		name      string
		financial *types.FinancialData
		want      types.Priority
	}{
		{"no financial data", nil, types.PriorityUnknown},
		{"empty financial data", &types.FinancialData{}, types.PriorityUnknown},
		{"high agency spend", &types.FinancialData{AgencySupplyCosts: "£150 per pupil"}, types.PriorityHigh},
		{"high percentile", &types.FinancialData{ComparisonToOtherSchools: "Spending is higher than 85% of similar schools"}, types.PriorityHigh},
		{"some agency spend", &types.FinancialData{AgencySupplyCosts: "£20 per pupil"}, types.PriorityMedium},
		{"medium percentile", &types.FinancialData{ComparisonToOtherSchools: "higher than 65% of similar schools"}, types.PriorityMedium},
		{"low", &types.FinancialData{TeachingStaffCosts: "£4,000 per pupil", ComparisonToOtherSchools: "higher than 10% of similar schools"}, types.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &types.School{URN: "1", Name: "x", Financial: tt.financial}
			assert.Equal(t, tt.want, s.SalesPriority())
		})
	}
}

func TestSchool_LLMContextIsDeterministic(t *testing.T) {
	s := thomasCoram()
	first := s.LLMContext()
	assert.Equal(t, first, s.LLMContext())

	assert.Contains(t, first, "- Name: Thomas Coram Centre")
	assert.Contains(t, first, "- URN: 100005")
	assert.Contains(t, first, "- Headteacher: Ms Perina Holness")
	assert.Contains(t, first, "- Agency supply costs: £102 per pupil")
	assert.Contains(t, first, "SALES PRIORITY (from financial data): HIGH")
	assert.NotContains(t, first, "OFSTED", "empty sections are omitted")

	// Financial section comes before the priority line.
	assert.Less(t, strings.Index(first, "FINANCIAL DATA"), strings.Index(first, "SALES PRIORITY"))
}

func TestSchool_Address(t *testing.T) {
	s := thomasCoram()
	assert.Equal(t, "49 Mecklenburgh Square, London, WC1N 2NY", s.Address())
}
