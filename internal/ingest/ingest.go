// Package ingest loads CSV extracts into the directory: NPPES-style
// provider files, carrier plan lists, CMS acceptance lists and historical
// verification logs.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/model"
)

// Import kinds.
const (
	KindProviders     = "providers"
	KindPlans         = "plans"
	KindAcceptances   = "acceptances"
	KindVerifications = "verifications"
)

// Kinds lists every importable file kind.
var Kinds = []string{KindProviders, KindPlans, KindAcceptances, KindVerifications}

// DefaultBatchSize is the number of rows written per bulk upsert.
const DefaultBatchSize = 1000

// maxReportedErrors caps the row errors kept in a result.
const maxReportedErrors = 20

// Options configures an import.
type Options struct {
	DryRun    bool // Parse and validate without writing
	BatchSize int
}

func (o Options) batch() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// RowError describes a rejected row.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Importer writes parsed rows through the directory store.
type Importer struct {
	store  *directory.Store
	scorer *confidence.Scorer
	now    func() time.Time
	newID  func() string
}

// NewImporter creates an Importer.
func NewImporter(store *directory.Store, scorer *confidence.Scorer) *Importer {
	return &Importer{
		store:  store,
		scorer: scorer,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Import reads one CSV file of the given kind.
func (im *Importer) Import(ctx context.Context, kind string, r io.Reader, opts Options) (*model.JobResult, error) {
	switch kind {
	case KindProviders:
		return im.ImportProviders(ctx, r, opts)
	case KindPlans:
		return im.ImportPlans(ctx, r, opts)
	case KindAcceptances:
		return im.ImportAcceptances(ctx, r, opts)
	case KindVerifications:
		return im.ImportVerifications(ctx, r, opts)
	}
	return nil, eris.Errorf("ingest: unknown kind %q (want one of %s)", kind, strings.Join(Kinds, ", "))
}

// tally accumulates counts across batches.
type tally struct {
	res    *model.JobResult
	errors []RowError
}

func newTally() *tally {
	return &tally{res: &model.JobResult{Details: map[string]any{}}}
}

func (t *tally) reject(line int, reason string) {
	t.res.Residual++
	if len(t.errors) < maxReportedErrors {
		t.errors = append(t.errors, RowError{Line: line, Reason: reason})
	}
}

func (t *tally) finish(kind string, opts Options) *model.JobResult {
	t.res.Details["kind"] = kind
	t.res.Details["dry_run"] = opts.DryRun
	if len(t.errors) > 0 {
		msgs := make([]string, len(t.errors))
		for i, e := range t.errors {
			msgs[i] = e.String()
		}
		t.res.Details["errors"] = msgs
	}
	zap.L().Info("ingest: import complete",
		zap.String("kind", kind),
		zap.Int("rows", t.res.Examined),
		zap.Int("written", t.res.Affected),
		zap.Int("rejected", t.res.Residual),
		zap.Bool("dry_run", opts.DryRun),
	)
	return t.res
}

// headerName maps a column title onto the snake_case names used in csv
// tags, so "Plan ID" and "plan_id" both match.
func headerName(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// decodeBatches decodes r into rows of T and hands them to fn in batches
// along with each row's line number. The header row must contain every
// required column.
func decodeBatches[T any](r io.Reader, required []string, batch int, fn func(rows []T, lines []int) error) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	raw, err := cr.Read()
	if err == io.EOF {
		return 0, eris.New("ingest: file is empty")
	}
	if err != nil {
		return 0, eris.Wrap(err, "ingest: read header")
	}
	header := make([]string, len(raw))
	have := make(map[string]bool, len(raw))
	for i, h := range raw {
		header[i] = headerName(h)
		have[header[i]] = true
	}
	var missing []string
	for _, col := range required {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return 0, eris.Errorf("ingest: missing required columns: %s", strings.Join(missing, ", "))
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: init decoder")
	}

	var (
		rows  []T
		lines []int
		n     int
	)
	for {
		var v T
		err := dec.Decode(&v)
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, eris.Wrapf(err, "ingest: decode row %d", n+1)
		}
		n++
		line, _ := cr.FieldPos(0)
		rows = append(rows, v)
		lines = append(lines, line)

		if len(rows) >= batch {
			if err := fn(rows, lines); err != nil {
				return n, err
			}
			rows, lines = nil, nil
		}
	}
	if len(rows) > 0 {
		if err := fn(rows, lines); err != nil {
			return n, err
		}
	}
	return n, nil
}

// parseOptionalBool reads yes/no style flags. An empty value is nil.
func parseOptionalBool(s string) (*bool, error) {
	var v bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "true", "t", "yes", "y", "1":
		v = true
	case "false", "f", "no", "n", "0":
		v = false
	default:
		return nil, eris.Errorf("invalid boolean %q", s)
	}
	return &v, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// parseOptionalTime accepts RFC 3339 and the common date forms found in
// CMS and carrier extracts. An empty value is the zero time.
func parseOptionalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid date %q", s)
}
