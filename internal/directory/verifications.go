package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/db"
	"github.com/verifymyprovider/vmp/internal/model"
)

// ErrAlreadyReviewed is returned when approving or rejecting a
// verification that has already been reviewed.
var ErrAlreadyReviewed = errors.New("directory: verification already reviewed")

const verificationSelect = `
SELECT id::text, npi, plan_id, source, claimed_status, claimed_accepts_new_patients, notes,
       submitted_by, upvotes, downvotes, is_approved, created_at
FROM directory.verification_logs`

func scanVerification(row pgx.Row) (model.VerificationLog, error) {
	var v model.VerificationLog
	var source, status string
	err := row.Scan(&v.ID, &v.NPI, &v.PlanID, &source, &status, &v.ClaimedAcceptsNewPatients,
		&v.Notes, &v.SubmittedBy, &v.Upvotes, &v.Downvotes, &v.IsApproved, &v.CreatedAt)
	v.Source = model.VerificationSource(source)
	v.ClaimedStatus = model.AcceptanceStatus(status)
	return v, err
}

func collectVerifications(rows pgx.Rows) ([]model.VerificationLog, error) {
	defer rows.Close()
	var out []model.VerificationLog
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "directory: scan verification")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate verifications")
}

// LockPair takes a transaction-scoped advisory lock on a (provider, plan)
// pair so concurrent submissions recompute its acceptance one at a time.
func (s *Store) LockPair(ctx context.Context, npi, planID string) error {
	_, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, npi+"|"+planID)
	return eris.Wrapf(err, "directory: lock pair %s/%s", npi, planID)
}

// RecentSubmissionExists reports whether a submitter has verified the pair
// since the given time.
func (s *Store) RecentSubmissionExists(ctx context.Context, npi, planID, submittedBy string, since time.Time) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM directory.verification_logs
    WHERE npi = $1 AND plan_id = $2 AND submitted_by = $3 AND created_at > $4
)`, npi, planID, submittedBy, since).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "directory: check recent submission")
	}
	return exists, nil
}

// InsertVerification appends a verification log.
func (s *Store) InsertVerification(ctx context.Context, v *model.VerificationLog) error {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return eris.Wrapf(err, "directory: verification id %q", v.ID)
	}
	_, err = s.q.Exec(ctx, `
INSERT INTO directory.verification_logs
    (id, npi, plan_id, source, claimed_status, claimed_accepts_new_patients, notes, submitted_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, v.NPI, v.PlanID, string(v.Source), string(v.ClaimedStatus), v.ClaimedAcceptsNewPatients,
		v.Notes, v.SubmittedBy, v.CreatedAt,
	)
	return eris.Wrapf(err, "directory: insert verification %s", v.ID)
}

var verificationColumns = []string{
	"id", "npi", "plan_id", "source", "claimed_status", "claimed_accepts_new_patients",
	"notes", "submitted_by", "is_approved", "created_at",
}

// AppendVerifications bulk-appends historical verification logs with COPY.
func (s *Store) AppendVerifications(ctx context.Context, logs []model.VerificationLog) (int64, error) {
	rows := make([][]any, len(logs))
	for i, v := range logs {
		id, err := uuid.Parse(v.ID)
		if err != nil {
			return 0, eris.Wrapf(err, "directory: verification id %q", v.ID)
		}
		rows[i] = []any{
			id, v.NPI, v.PlanID, string(v.Source), string(v.ClaimedStatus), v.ClaimedAcceptsNewPatients,
			v.Notes, v.SubmittedBy, v.IsApproved, v.CreatedAt,
		}
	}
	n, err := db.CopyFromSchema(ctx, s.pool, Schema, "verification_logs", verificationColumns, rows)
	return n, eris.Wrap(err, "directory: append verifications")
}

// GetVerification returns one verification log.
func (s *Store) GetVerification(ctx context.Context, id string) (*model.VerificationLog, error) {
	v, err := scanVerification(s.q.QueryRow(ctx, verificationSelect+` WHERE id = $1::uuid`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("directory: get verification %s", id))
	}
	return &v, nil
}

// ListVerifications returns a pair's verification logs, newest first.
// A non-positive limit returns all of them.
func (s *Store) ListVerifications(ctx context.Context, npi, planID string, limit int) ([]model.VerificationLog, error) {
	sql := verificationSelect + ` WHERE npi = $1 AND plan_id = $2 ORDER BY created_at DESC`
	args := []any{npi, planID}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: list verifications %s/%s", npi, planID)
	}
	return collectVerifications(rows)
}

// PairKey identifies a (provider, plan) pair.
type PairKey struct {
	NPI    string
	PlanID string
}

// VerificationsForPairs loads every verification log for the given pairs.
func (s *Store) VerificationsForPairs(ctx context.Context, pairs []PairKey) (map[PairKey][]model.VerificationLog, error) {
	out := make(map[PairKey][]model.VerificationLog, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	npis := make([]string, len(pairs))
	plans := make([]string, len(pairs))
	for i, p := range pairs {
		npis[i] = p.NPI
		plans[i] = p.PlanID
	}

	rows, err := s.q.Query(ctx, verificationSelect+`
WHERE (npi, plan_id) IN (SELECT * FROM unnest($1::text[], $2::text[]))
ORDER BY npi, plan_id, created_at`, npis, plans)
	if err != nil {
		return nil, eris.Wrap(err, "directory: load verifications for pairs")
	}
	logs, err := collectVerifications(rows)
	if err != nil {
		return nil, err
	}
	for _, v := range logs {
		k := PairKey{NPI: v.NPI, PlanID: v.PlanID}
		out[k] = append(out[k], v)
	}
	return out, nil
}

// VoteResult is a verification's vote tally after a vote.
type VoteResult struct {
	Upvotes   int  `json:"upvotes"`
	Downvotes int  `json:"downvotes"`
	Changed   bool `json:"changed"`
}

// ApplyVote records a voter's vote. A repeat vote in the same direction is
// a no-op; switching direction moves one count to the other. Call it inside
// InTx so the vote row and counters change together.
func (s *Store) ApplyVote(ctx context.Context, verificationID, voterHash string, dir model.VoteDirection) (VoteResult, error) {
	var res VoteResult

	var prev string
	err := s.q.QueryRow(ctx, `
SELECT direction FROM directory.vote_logs
WHERE verification_id = $1::uuid AND voter_hash = $2
FOR UPDATE`, verificationID, voterHash).Scan(&prev)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prev = ""
	case err != nil:
		return res, eris.Wrap(err, "directory: load previous vote")
	}

	if prev == string(dir) {
		err := s.q.QueryRow(ctx,
			`SELECT upvotes, downvotes FROM directory.verification_logs WHERE id = $1::uuid`,
			verificationID).Scan(&res.Upvotes, &res.Downvotes)
		return res, notFound(err, "directory: load vote tally")
	}

	up, down := 0, 0
	if dir == model.VoteUp {
		up = 1
	} else {
		down = 1
	}

	if prev == "" {
		_, err = s.q.Exec(ctx, `
INSERT INTO directory.vote_logs (verification_id, voter_hash, direction) VALUES ($1::uuid, $2, $3)`,
			verificationID, voterHash, string(dir))
	} else {
		_, err = s.q.Exec(ctx, `
UPDATE directory.vote_logs SET direction = $3, updated_at = now()
WHERE verification_id = $1::uuid AND voter_hash = $2`,
			verificationID, voterHash, string(dir))
		// The old direction loses the vote the new one gains.
		up, down = up-down, down-up
	}
	if err != nil {
		return res, eris.Wrap(err, "directory: record vote")
	}

	err = s.q.QueryRow(ctx, `
UPDATE directory.verification_logs
SET upvotes = upvotes + $2, downvotes = downvotes + $3
WHERE id = $1::uuid
RETURNING upvotes, downvotes`, verificationID, up, down).Scan(&res.Upvotes, &res.Downvotes)
	if err != nil {
		return res, notFound(err, "directory: update vote tally")
	}
	res.Changed = true
	return res, nil
}

// SetApproval moves a pending verification to approved or rejected.
func (s *Store) SetApproval(ctx context.Context, id string, approved bool) error {
	tag, err := s.q.Exec(ctx, `
UPDATE directory.verification_logs SET is_approved = $2
WHERE id = $1::uuid AND is_approved IS NULL`, id, approved)
	if err != nil {
		return eris.Wrapf(err, "directory: set approval %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAlreadyReviewed, "directory: set approval %s", id)
	}
	return nil
}

// CountPendingVerifications returns how many verifications await review.
func (s *Store) CountPendingVerifications(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM directory.verification_logs WHERE is_approved IS NULL`).Scan(&n)
	return n, eris.Wrap(err, "directory: count pending verifications")
}
