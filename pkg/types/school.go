package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ContactRole identifies the role of a school contact.
type ContactRole string

// Contact role constants
const (
	ContactRoleHeadteacher ContactRole = "headteacher"
	ContactRoleDeputy      ContactRole = "deputy_head"
	ContactRoleBusiness    ContactRole = "business_manager"
	ContactRoleSENCO       ContactRole = "senco"
	ContactRoleOther       ContactRole = "other"
)

// Contact is a named person at a school.
type Contact struct {
	FullName        string      `json:"full_name"`
	Role            ContactRole `json:"role"`
	Title           string      `json:"title,omitempty"`
	FirstName       string      `json:"first_name,omitempty"`
	LastName        string      `json:"last_name,omitempty"`
	Email           string      `json:"email,omitempty"`
	Phone           string      `json:"phone,omitempty"`
	ConfidenceScore float64     `json:"confidence_score"`
}

// FinancialData holds the benchmarking figures for a school. Values are kept
// as the human-readable strings published by the benchmarking tool, e.g.
// "£102 per pupil" or "Spending is higher than 96.7% of similar schools".
type FinancialData struct {
	TotalTeachingSupportSpendPerPupil string `json:"total_teaching_support_spend_per_pupil,omitempty"`
	ComparisonToOtherSchools          string `json:"comparison_to_other_schools,omitempty"`
	TotalTeachingSupportPerPupil      string `json:"total_teaching_support_per_pupil,omitempty"`
	TeachingStaffCosts                string `json:"teaching_staff_costs,omitempty"`
	SupplyTeachingCosts               string `json:"supply_teaching_costs,omitempty"`
	AgencySupplyCosts                 string `json:"agency_supply_costs,omitempty"`
	EducationalSupportCosts           string `json:"educational_support_costs,omitempty"`
	EducationalConsultancyCosts       string `json:"educational_consultancy_costs,omitempty"`
}

var (
	poundAmountRe = regexp.MustCompile(`£\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	percentileRe  = regexp.MustCompile(`(?i)higher than\s+([0-9]+(?:\.[0-9]+)?)\s*%`)
)

// IsEmpty reports whether no financial metric is populated.
func (f *FinancialData) IsEmpty() bool {
	return f == nil || *f == FinancialData{}
}

// AgencySpendPerPupil returns the first pound amount in AgencySupplyCosts.
// The second return value is false when no amount could be parsed.
func (f *FinancialData) AgencySpendPerPupil() (float64, bool) {
	if f == nil {
		return 0, false
	}
	return parsePounds(f.AgencySupplyCosts)
}

// HasAgencySpend reports whether the school spends anything on agency supply staff.
func (f *FinancialData) HasAgencySpend() bool {
	amount, ok := f.AgencySpendPerPupil()
	return ok && amount > 0
}

// ComparisonPercentile extracts X from "higher than X% of similar schools".
func (f *FinancialData) ComparisonPercentile() (float64, bool) {
	if f == nil {
		return 0, false
	}
	for _, s := range []string{f.ComparisonToOtherSchools, f.TotalTeachingSupportSpendPerPupil} {
		m := percentileRe.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return v, true
		}
	}
	return 0, false
}

func parsePounds(s string) (float64, bool) {
	m := poundAmountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// OfstedData holds the latest inspection outcome for a school.
type OfstedData struct {
	Rating              string   `json:"rating,omitempty"`
	InspectionDate      string   `json:"inspection_date,omitempty"`
	AreasForImprovement []string `json:"areas_for_improvement,omitempty"`
}

// School is a single school record. It is immutable once loaded; the URN is
// its identity.
type School struct {
	URN         string         `json:"urn"`
	Name        string         `json:"school_name"`
	LAName      string         `json:"la_name,omitempty"`
	Type        string         `json:"school_type,omitempty"`
	Phase       string         `json:"phase,omitempty"`
	Address1    string         `json:"address_1,omitempty"`
	Address2    string         `json:"address_2,omitempty"`
	Address3    string         `json:"address_3,omitempty"`
	Town        string         `json:"town,omitempty"`
	County      string         `json:"county,omitempty"`
	Postcode    string         `json:"postcode,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Website     string         `json:"website,omitempty"`
	TrustCode   string         `json:"trust_code,omitempty"`
	TrustName   string         `json:"trust_name,omitempty"`
	PupilCount  int            `json:"pupil_count,omitempty"`
	Headteacher *Contact       `json:"headteacher,omitempty"`
	Contacts    []Contact      `json:"contacts,omitempty"`
	Financial   *FinancialData `json:"financial,omitempty"`
	Ofsted      *OfstedData    `json:"ofsted,omitempty"`
	DataSource  string         `json:"data_source,omitempty"`
}

// Agency spend and benchmark thresholds used to rank prospects.
const (
	HighAgencySpendPerPupil    = 100.0
	HighComparisonPercentile   = 80.0
	MediumComparisonPercentile = 60.0
)

// SalesPriority derives a prospect priority from the financial data alone.
// Schools without financial data are PriorityUnknown.
func (s *School) SalesPriority() Priority {
	if s.Financial.IsEmpty() {
		return PriorityUnknown
	}
	agency, hasAgency := s.Financial.AgencySpendPerPupil()
	pct, hasPct := s.Financial.ComparisonPercentile()

	switch {
	case hasAgency && agency >= HighAgencySpendPerPupil:
		return PriorityHigh
	case hasPct && pct >= HighComparisonPercentile:
		return PriorityHigh
	case hasAgency && agency > 0:
		return PriorityMedium
	case hasPct && pct >= MediumComparisonPercentile:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Address joins the populated address lines.
func (s *School) Address() string {
	var parts []string
	for _, p := range []string{s.Address1, s.Address2, s.Address3, s.Town, s.County, s.Postcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// LLMContext renders the school as the deterministic text block embedded in
// prompts. Sections appear in a fixed order and empty fields are omitted, so
// the same record always yields the same text.
func (s *School) LLMContext() string {
	var b strings.Builder

	b.WriteString("SCHOOL PROFILE\n")
	line(&b, "Name", s.Name)
	line(&b, "URN", s.URN)
	line(&b, "Local authority", s.LAName)
	line(&b, "Type", s.Type)
	line(&b, "Phase", s.Phase)
	line(&b, "Address", s.Address())
	if s.PupilCount > 0 {
		line(&b, "Pupils", strconv.Itoa(s.PupilCount))
	}
	line(&b, "Trust", s.TrustName)
	line(&b, "Website", s.Website)

	if s.Headteacher != nil && s.Headteacher.FullName != "" {
		b.WriteString("\nLEADERSHIP\n")
		line(&b, "Headteacher", s.Headteacher.FullName)
	}

	if !s.Financial.IsEmpty() {
		f := s.Financial
		b.WriteString("\nFINANCIAL DATA\n")
		line(&b, "Teaching and support spend per pupil", f.TotalTeachingSupportSpendPerPupil)
		line(&b, "Comparison to similar schools", f.ComparisonToOtherSchools)
		line(&b, "Total teaching support per pupil", f.TotalTeachingSupportPerPupil)
		line(&b, "Teaching staff costs", f.TeachingStaffCosts)
		line(&b, "Supply teaching costs", f.SupplyTeachingCosts)
		line(&b, "Agency supply costs", f.AgencySupplyCosts)
		line(&b, "Educational support costs", f.EducationalSupportCosts)
		line(&b, "Educational consultancy costs", f.EducationalConsultancyCosts)
	}

	if s.Ofsted != nil && (s.Ofsted.Rating != "" || len(s.Ofsted.AreasForImprovement) > 0) {
		b.WriteString("\nOFSTED\n")
		line(&b, "Rating", s.Ofsted.Rating)
		line(&b, "Inspection date", s.Ofsted.InspectionDate)
		for _, area := range s.Ofsted.AreasForImprovement {
			line(&b, "Area for improvement", area)
		}
	}

	fmt.Fprintf(&b, "\nSALES PRIORITY (from financial data): %s\n", s.SalesPriority())
	return b.String()
}

func line(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
