package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/model"
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("verification: invalid request")
	// ErrDuplicateSubmission is returned when a submitter verifies the same
	// pair twice inside the Sybil window.
	ErrDuplicateSubmission = errors.New("verification: duplicate submission")
)

const maxNotesLen = 1000

// Config tunes the service.
type Config struct {
	// HashSalt is mixed into submitter and voter fingerprints.
	HashSalt string
	// SybilWindow is how long a submitter must wait before verifying the
	// same pair again.
	SybilWindow time.Duration
}

// Service records verifications and votes and recomputes acceptances.
type Service struct {
	store  *directory.Store
	scorer *confidence.Scorer
	cfg    Config
	now    func() time.Time
	newID  func() string
}

// NewService creates a Service.
func NewService(store *directory.Store, scorer *confidence.Scorer, cfg Config) *Service {
	if cfg.SybilWindow <= 0 {
		cfg.SybilWindow = 30 * 24 * time.Hour
	}
	return &Service{
		store:  store,
		scorer: scorer,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Submission is one claim about whether a provider takes a plan.
type Submission struct {
	NPI                string                   `json:"npi"`
	PlanID             string                   `json:"plan_id"`
	Source             model.VerificationSource `json:"source"`
	Status             model.AcceptanceStatus   `json:"acceptance_status"`
	AcceptsNewPatients *bool                    `json:"accepts_new_patients,omitempty"`
	Notes              string                   `json:"notes,omitempty"`
	// Submitter is the raw client identifier; only its hash is stored.
	Submitter string `json:"-"`
}

// Validate normalizes and checks a submission.
func (sub *Submission) Validate() error {
	sub.NPI = strings.TrimSpace(sub.NPI)
	sub.PlanID = strings.TrimSpace(sub.PlanID)
	sub.Notes = strings.TrimSpace(sub.Notes)

	var errs []string
	if !model.ValidNPI(sub.NPI) {
		errs = append(errs, "npi must be 10 digits")
	}
	if sub.PlanID == "" {
		errs = append(errs, "plan_id is required")
	}
	if sub.Source == "" {
		sub.Source = model.SourceCrowdsource
	} else if src, ok := model.ParseSource(string(sub.Source)); ok {
		sub.Source = src
	} else {
		errs = append(errs, "unknown source "+string(sub.Source))
	}
	if st, ok := model.ParseAcceptanceStatus(string(sub.Status)); ok {
		sub.Status = st
	} else {
		errs = append(errs, "acceptance_status must be ACCEPTED, NOT_ACCEPTED or UNKNOWN")
	}
	if len(sub.Notes) > maxNotesLen {
		errs = append(errs, "notes too long")
	}

	if len(errs) > 0 {
		return eris.Wrap(ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// SubmitResult is the stored claim and the acceptance it produced.
type SubmitResult struct {
	Verification model.VerificationLog        `json:"verification"`
	Acceptance   model.ProviderPlanAcceptance `json:"acceptance"`
}

// Submit validates and stores a claim, then recomputes the pair's
// acceptance, all in one transaction.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	v := model.VerificationLog{
		ID:                        s.newID(),
		NPI:                       sub.NPI,
		PlanID:                    sub.PlanID,
		Source:                    sub.Source,
		ClaimedStatus:             sub.Status,
		ClaimedAcceptsNewPatients: sub.AcceptsNewPatients,
		Notes:                     sub.Notes,
		SubmittedBy:               s.Fingerprint(sub.Submitter),
		CreatedAt:                 now,
	}

	var acc model.ProviderPlanAcceptance
	err := s.store.InTx(ctx, func(tx *directory.Store) error {
		if _, err := tx.GetProvider(ctx, v.NPI); err != nil {
			return err
		}
		if _, err := tx.GetPlan(ctx, v.PlanID); err != nil {
			return err
		}
		if err := tx.LockPair(ctx, v.NPI, v.PlanID); err != nil {
			return err
		}

		if v.SubmittedBy != "" {
			dup, err := tx.RecentSubmissionExists(ctx, v.NPI, v.PlanID, v.SubmittedBy, now.Add(-s.cfg.SybilWindow))
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicateSubmission
			}
		}

		if err := tx.InsertVerification(ctx, &v); err != nil {
			return err
		}

		var err error
		acc, err = s.recomputeLocked(ctx, tx, v.NPI, v.PlanID, now)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "verification: submit")
	}

	zap.L().Info("verification: submitted",
		zap.String("npi", v.NPI),
		zap.String("plan_id", v.PlanID),
		zap.String("source", string(v.Source)),
		zap.String("claimed", string(v.ClaimedStatus)),
		zap.Float64("confidence", acc.ConfidenceScore),
	)
	return &SubmitResult{Verification: v, Acceptance: acc}, nil
}

// recomputeLocked rebuilds and stores a pair's acceptance. The caller must
// hold the pair lock.
func (s *Service) recomputeLocked(ctx context.Context, tx *directory.Store, npi, planID string, now time.Time) (model.ProviderPlanAcceptance, error) {
	logs, err := tx.ListVerifications(ctx, npi, planID, 0)
	if err != nil {
		return model.ProviderPlanAcceptance{}, err
	}

	current, err := tx.GetAcceptance(ctx, npi, planID)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return model.ProviderPlanAcceptance{}, err
	}

	acc := Recompute(s.scorer, current, npi, planID, logs, now)
	if err := tx.UpsertAcceptance(ctx, &acc); err != nil {
		return model.ProviderPlanAcceptance{}, err
	}
	return acc, nil
}

// RecomputePair rebuilds one pair's acceptance from its logs.
func (s *Service) RecomputePair(ctx context.Context, npi, planID string) (*model.ProviderPlanAcceptance, error) {
	var acc model.ProviderPlanAcceptance
	err := s.store.InTx(ctx, func(tx *directory.Store) error {
		if err := tx.LockPair(ctx, npi, planID); err != nil {
			return err
		}
		var err error
		acc, err = s.recomputeLocked(ctx, tx, npi, planID, s.now())
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "verification: recompute %s/%s", npi, planID)
	}
	return &acc, nil
}

// Vote records an up or down vote from a voter.
func (s *Service) Vote(ctx context.Context, verificationID, voter string, dir model.VoteDirection) (directory.VoteResult, error) {
	var res directory.VoteResult
	if dir != model.VoteUp && dir != model.VoteDown {
		return res, eris.Wrap(ErrInvalid, "vote must be up or down")
	}
	if _, err := uuid.Parse(verificationID); err != nil {
		return res, eris.Wrap(ErrInvalid, "verification id must be a UUID")
	}
	voterHash := s.Fingerprint(voter)
	if voterHash == "" {
		return res, eris.Wrap(ErrInvalid, "voter identity is required")
	}

	err := s.store.InTx(ctx, func(tx *directory.Store) error {
		if _, err := tx.GetVerification(ctx, verificationID); err != nil {
			return err
		}
		var err error
		res, err = tx.ApplyVote(ctx, verificationID, voterHash, dir)
		return err
	})
	if err != nil {
		return res, eris.Wrap(err, "verification: vote")
	}
	return res, nil
}

// Review approves or rejects a pending verification and recomputes the
// pair, since a rejected claim no longer counts.
func (s *Service) Review(ctx context.Context, verificationID string, approved bool) (*model.ProviderPlanAcceptance, error) {
	if _, err := uuid.Parse(verificationID); err != nil {
		return nil, eris.Wrap(ErrInvalid, "verification id must be a UUID")
	}

	var acc model.ProviderPlanAcceptance
	err := s.store.InTx(ctx, func(tx *directory.Store) error {
		v, err := tx.GetVerification(ctx, verificationID)
		if err != nil {
			return err
		}
		if err := tx.LockPair(ctx, v.NPI, v.PlanID); err != nil {
			return err
		}
		if err := tx.SetApproval(ctx, verificationID, approved); err != nil {
			return err
		}
		acc, err = s.recomputeLocked(ctx, tx, v.NPI, v.PlanID, s.now())
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "verification: review")
	}

	zap.L().Info("verification: reviewed",
		zap.String("id", verificationID),
		zap.Bool("approved", approved),
	)
	return &acc, nil
}

// Fingerprint hashes a raw client identifier with the configured salt.
// Empty input yields an empty fingerprint.
func (s *Service) Fingerprint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s.cfg.HashSalt + ":" + raw))
	return hex.EncodeToString(sum[:])
}
