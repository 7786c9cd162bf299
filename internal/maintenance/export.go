package maintenance

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/sync/errgroup"

	"github.com/verifymyprovider/vmp/internal/directory"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportOptions configures Export.
type ExportOptions struct {
	Format    string
	Filter    directory.ExportFilter
	BatchSize int
}

// ExportRecord is one exported acceptance.
type ExportRecord struct {
	NPI                string  `csv:"npi"`
	ProviderName       string  `csv:"provider_name"`
	Specialty          string  `csv:"specialty"`
	City               string  `csv:"city"`
	State              string  `csv:"state"`
	PlanID             string  `csv:"plan_id"`
	PlanName           string  `csv:"plan_name"`
	Issuer             string  `csv:"issuer"`
	PlanType           string  `csv:"plan_type"`
	AcceptanceStatus   string  `csv:"acceptance_status"`
	AcceptsNewPatients string  `csv:"accepts_new_patients"`
	ConfidenceScore    float64 `csv:"confidence_score"`
	ConfidenceLevel    string  `csv:"confidence_level"`
	VerificationCount  int     `csv:"verification_count"`
	LastVerifiedAt     string  `csv:"last_verified_at"`
	Freshness          string  `csv:"freshness"`
	DaysSinceVerified  string  `csv:"days_since_verified"`
}

// values lists the fields in header order.
func (r ExportRecord) values() []any {
	return []any{
		r.NPI, r.ProviderName, r.Specialty, r.City, r.State, r.PlanID, r.PlanName, r.Issuer,
		r.PlanType, r.AcceptanceStatus, r.AcceptsNewPatients, r.ConfidenceScore, r.ConfidenceLevel,
		r.VerificationCount, r.LastVerifiedAt, r.Freshness, r.DaysSinceVerified,
	}
}

// record flattens an export row, attaching its confidence level and
// freshness as of now.
func (r *Runner) record(row directory.ExportRow, now time.Time) ExportRecord {
	a := row.Acceptance
	rec := ExportRecord{
		NPI:               a.NPI,
		ProviderName:      row.Provider.DisplayName(),
		Specialty:         row.Provider.Specialty,
		City:              row.City,
		State:             row.State,
		PlanID:            a.PlanID,
		PlanName:          row.Plan.Name,
		Issuer:            row.Plan.Issuer,
		PlanType:          row.Plan.PlanType,
		AcceptanceStatus:  string(a.Status),
		ConfidenceScore:   a.ConfidenceScore,
		ConfidenceLevel:   string(r.scorer.ForAcceptance(&a).Level),
		VerificationCount: a.VerificationCount,
	}
	if a.AcceptsNewPatients != nil {
		rec.AcceptsNewPatients = strconv.FormatBool(*a.AcceptsNewPatients)
	}
	if a.LastVerifiedAt != nil {
		rec.LastVerifiedAt = a.LastVerifiedAt.UTC().Format(time.RFC3339)
	}
	st := r.freshness.EvaluateSpecialty(a.LastVerifiedAt, row.Provider.Specialty, row.Provider.TaxonomyCode, now)
	rec.Freshness = string(st.Level)
	if st.DaysSince != nil {
		rec.DaysSinceVerified = strconv.Itoa(*st.DaysSince)
	}
	return rec
}

// Export streams every matching acceptance to w as CSV or XLSX and returns
// the number of rows written. Pages are read from the database while the
// previous page is being encoded.
func (r *Runner) Export(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	var sink recordSink
	switch opts.Format {
	case FormatCSV:
		sink = newCSVSink(w)
	case FormatXLSX:
		s, err := newXLSXSink(w)
		if err != nil {
			return 0, err
		}
		sink = s
	default:
		return 0, eris.Errorf("maintenance: unknown export format %q", opts.Format)
	}

	batch := Options{BatchSize: opts.BatchSize}.batch()
	now := r.now()
	pages := make(chan []ExportRecord, 2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pages)
		var after int64
		for {
			rows, err := r.store.ExportAcceptances(gctx, opts.Filter, after, batch)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			after = rows[len(rows)-1].Acceptance.ID

			recs := make([]ExportRecord, len(rows))
			for i, row := range rows {
				recs[i] = r.record(row, now)
			}
			select {
			case pages <- recs:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	written := 0
	g.Go(func() error {
		for recs := range pages {
			for _, rec := range recs {
				if err := sink.write(rec); err != nil {
					return err
				}
				written++
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return written, eris.Wrap(err, "maintenance: export")
	}
	if err := sink.close(); err != nil {
		return written, eris.Wrap(err, "maintenance: export")
	}
	return written, nil
}

type recordSink interface {
	write(ExportRecord) error
	close() error
}

type csvSink struct {
	w     *csv.Writer
	enc   *csvutil.Encoder
	wrote bool
}

func newCSVSink(w io.Writer) *csvSink {
	cw := csv.NewWriter(w)
	return &csvSink{w: cw, enc: csvutil.NewEncoder(cw)}
}

func (s *csvSink) write(rec ExportRecord) error {
	s.wrote = true
	return eris.Wrap(s.enc.Encode(rec), "csv: encode record")
}

func (s *csvSink) close() error {
	if !s.wrote {
		if err := s.enc.EncodeHeader(ExportRecord{}); err != nil {
			return eris.Wrap(err, "csv: encode header")
		}
	}
	s.w.Flush()
	return eris.Wrap(s.w.Error(), "csv: flush")
}

type xlsxSink struct {
	out   io.Writer
	file  *xlsx.File
	sheet *xlsx.Sheet
}

func newXLSXSink(w io.Writer) (*xlsxSink, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("acceptances")
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add sheet")
	}
	header, err := csvutil.Header(ExportRecord{}, "csv")
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: header")
	}
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return &xlsxSink{out: w, file: f, sheet: sheet}, nil
}

func (s *xlsxSink) write(rec ExportRecord) error {
	row := s.sheet.AddRow()
	for _, v := range rec.values() {
		c := row.AddCell()
		switch v := v.(type) {
		case float64:
			c.SetFloat(v)
		case int:
			c.SetInt(v)
		case string:
			c.SetString(v)
		}
	}
	return nil
}

func (s *xlsxSink) close() error {
	return eris.Wrap(s.file.Write(s.out), "xlsx: write file")
}
