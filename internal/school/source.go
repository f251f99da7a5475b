package school

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/scrypster/schoolintel/pkg/types"
)

// Source loads every school record from a backing data set.
type Source interface {
	// Load returns all records. Rows that cannot be mapped are skipped and
	// reported through the returned skipped count.
	Load(ctx context.Context) (schools []*types.School, skipped int, err error)

	// Name identifies the source for logging and statistics.
	Name() string
}

// columns lists the record fields shared by the CSV export and the warehouse table.
var columns = []string{
	"urn", "school_name", "la_name", "school_type", "phase",
	"address_1", "address_2", "address_3", "town", "county", "postcode",
	"phone", "website", "trust_code", "trust_name", "pupil_count",
	"headteacher", "head_title", "head_first_name", "head_last_name",
	"total_teaching_support_spend_per_pupil", "comparison_to_other_schools",
	"total_teaching_support_per_pupil", "teaching_staff_costs",
	"supply_teaching_costs", "agency_supply_costs",
	"educational_support_costs", "educational_consultancy_costs",
	"ofsted_rating", "ofsted_inspection_date", "ofsted_areas_for_improvement",
}

var errMissingIdentity = errors.New("row has no urn or school_name")

// rowToSchool maps a column->value row onto a School. Missing columns are
// treated as empty.
func rowToSchool(row map[string]string, source string) (*types.School, error) {
	get := func(k string) string { return strings.TrimSpace(row[k]) }

	s := &types.School{
		URN:        get("urn"),
		Name:       get("school_name"),
		LAName:     get("la_name"),
		Type:       get("school_type"),
		Phase:      get("phase"),
		Address1:   get("address_1"),
		Address2:   get("address_2"),
		Address3:   get("address_3"),
		Town:       get("town"),
		County:     get("county"),
		Postcode:   get("postcode"),
		Phone:      get("phone"),
		Website:    get("website"),
		TrustCode:  get("trust_code"),
		TrustName:  get("trust_name"),
		DataSource: source,
	}
	if s.URN == "" || s.Name == "" {
		return nil, errMissingIdentity
	}
	// Spreadsheet exports sometimes write integers as "116.0".
	s.URN = strings.TrimSuffix(s.URN, ".0")

	if pc := get("pupil_count"); pc != "" {
		f, err := strconv.ParseFloat(pc, 64)
		if err != nil {
			return nil, fmt.Errorf("urn %s: invalid pupil_count %q: %w", s.URN, pc, err)
		}
		s.PupilCount = int(f)
	}

	if head := get("headteacher"); head != "" {
		s.Headteacher = &types.Contact{
			FullName:        head,
			Role:            types.ContactRoleHeadteacher,
			Title:           get("head_title"),
			FirstName:       get("head_first_name"),
			LastName:        get("head_last_name"),
			Phone:           s.Phone,
			ConfidenceScore: 1.0, // official register data
		}
		s.Contacts = []types.Contact{*s.Headteacher}
	}

	fin := &types.FinancialData{
		TotalTeachingSupportSpendPerPupil: get("total_teaching_support_spend_per_pupil"),
		ComparisonToOtherSchools:          get("comparison_to_other_schools"),
		TotalTeachingSupportPerPupil:      get("total_teaching_support_per_pupil"),
		TeachingStaffCosts:                get("teaching_staff_costs"),
		SupplyTeachingCosts:               get("supply_teaching_costs"),
		AgencySupplyCosts:                 get("agency_supply_costs"),
		EducationalSupportCosts:           get("educational_support_costs"),
		EducationalConsultancyCosts:       get("educational_consultancy_costs"),
	}
	if !fin.IsEmpty() {
		s.Financial = fin
	}

	if rating := get("ofsted_rating"); rating != "" {
		o := &types.OfstedData{Rating: rating, InspectionDate: get("ofsted_inspection_date")}
		for _, area := range strings.Split(get("ofsted_areas_for_improvement"), ";") {
			if area = strings.TrimSpace(area); area != "" {
				o.AreasForImprovement = append(o.AreasForImprovement, area)
			}
		}
		s.Ofsted = o
	}

	return s, nil
}

// CSVSource reads records from a CSV export with a header row.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source for the CSV file at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Name returns "csv".
func (c *CSVSource) Name() string { return "csv" }

// Load reads the whole file.
func (c *CSVSource) Load(ctx context.Context) ([]*types.School, int, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, 0, fmt.Errorf("school: open csv: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readCSV(ctx, f, c.Name())
}

func readCSV(ctx context.Context, r io.Reader, source string) ([]*types.School, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("school: read csv header: %w", err)
	}
	for i, h := range header {
		// Excel writes a UTF-8 BOM before the first header.
		header[i] = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
	}

	var (
		schools []*types.School
		skipped int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		s, err := rowToSchool(row, source)
		if err != nil {
			skipped++
			continue
		}
		schools = append(schools, s)
	}
	return schools, skipped, nil
}

// PostgresSource reads records from a warehouse table with the same columns
// as the CSV export.
type PostgresSource struct {
	db    *sql.DB
	table string
}

// OpenPostgresSource connects to PostgreSQL with the given DSN.
func OpenPostgresSource(dsn, table string) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("school: open postgres: %w", err)
	}
	return NewPostgresSource(db, table), nil
}

// NewPostgresSource wraps an existing connection pool.
func NewPostgresSource(db *sql.DB, table string) *PostgresSource {
	return &PostgresSource{db: db, table: table}
}

// Name returns "postgres".
func (p *PostgresSource) Name() string { return "postgres" }

// Close closes the underlying pool.
func (p *PostgresSource) Close() error {
	return p.db.Close()
}

func (p *PostgresSource) query() string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(quoted, ", "), pq.QuoteIdentifier(p.table), pq.QuoteIdentifier("urn"))
}

// Load selects every row from the table.
func (p *PostgresSource) Load(ctx context.Context) ([]*types.School, int, error) {
	rows, err := p.db.QueryContext(ctx, p.query())
	if err != nil {
		return nil, 0, fmt.Errorf("school: query %s: %w", p.table, err)
	}
	defer func() { _ = rows.Close() }()

	var (
		schools []*types.School
		skipped int
	)
	values := make([]sql.NullString, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("school: scan row: %w", err)
		}
		row := make(map[string]string, len(columns))
		for i, c := range columns {
			if values[i].Valid {
				row[c] = values[i].String
			}
		}
		s, err := rowToSchool(row, p.Name())
		if err != nil {
			skipped++
			continue
		}
		schools = append(schools, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("school: iterate rows: %w", err)
	}
	return schools, skipped, nil
}
