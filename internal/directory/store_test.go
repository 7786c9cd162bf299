package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifymyprovider/vmp/internal/model"
)

var ts = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func int64Ptr(v int64) *int64 { return &v }

var providerRowCols = []string{
	"npi", "entity_type", "first_name", "last_name", "organization_name", "credential",
	"specialty", "taxonomy_code", "phone", "location_id", "updated_at",
	"address_line1", "address_line2", "city", "state", "zip", "name",
	"health_system", "facility_type", "provider_count",
}

func TestGetProvider_WithLocation(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`FROM directory.providers p\s+LEFT JOIN directory.locations l .* WHERE p.npi = \$1`).
		WithArgs("1234567890").
		WillReturnRows(pgxmock.NewRows(providerRowCols).AddRow(
			"1234567890", "INDIVIDUAL", "Jane", "Doe", "", "MD",
			"Family Medicine", "207Q00000X", "5551234567", int64Ptr(42), ts,
			"100 Main St", "", "Springfield", "IL", "62701", "Springfield Clinic",
			"", "CLINIC", 3,
		))

	p, err := s.GetProvider(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Equal(t, model.EntityIndividual, p.EntityType)
	assert.Equal(t, "Jane Doe, MD", p.DisplayName())
	require.NotNil(t, p.Location)
	assert.Equal(t, int64(42), p.Location.ID)
	assert.Equal(t, "Springfield Clinic", p.Location.Name)
	assert.Equal(t, 3, p.Location.ProviderCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProvider_WithoutLocation(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`WHERE p.npi = \$1`).
		WithArgs("1234567890").
		WillReturnRows(pgxmock.NewRows(providerRowCols).AddRow(
			"1234567890", "ORGANIZATION", "", "", "Acme Clinic", "",
			"", "", "", (*int64)(nil), ts,
			"", "", "", "", "", "",
			"", "", 0,
		))

	p, err := s.GetProvider(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Nil(t, p.Location)
	assert.Equal(t, "Acme Clinic", p.DisplayName())
}

func TestGetProvider_NotFound(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`WHERE p.npi = \$1`).WithArgs("0000000000").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProvider(context.Background(), "0000000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderFilterWhere(t *testing.T) {
	where, args := ProviderFilter{State: "california", Zip: "94110-1234", Specialty: "cardio"}.where()
	assert.Equal(t, " WHERE l.state = $1 AND left(l.zip, 5) = $2 AND upper(p.specialty) LIKE $3", where)
	assert.Equal(t, []any{"CA", "94110", "%CARDIO%"}, args)

	where, args = ProviderFilter{}.where()
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestSearchProviders(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	cols := append(append([]string{}, providerRowCols...), "count")
	mock.ExpectQuery(`(?s)count\(\*\) OVER \(\) FROM directory.providers p\s.* WHERE upper\(l.city\) = \$1 ORDER BY .* LIMIT \$2 OFFSET \$3`).
		WithArgs("OAKLAND", 20, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("1111111111", "INDIVIDUAL", "A", "Adams", "", "", "", "", "", (*int64)(nil), ts,
				"", "", "", "", "", "", "", "", 0, 2).
			AddRow("2222222222", "INDIVIDUAL", "B", "Baker", "", "", "", "", "", (*int64)(nil), ts,
				"", "", "", "", "", "", "", "", 0, 2))

	got, total, err := s.SearchProviders(context.Background(), ProviderFilter{City: "Oakland"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Limit: 20}, Page{}.normalize())
	assert.Equal(t, Page{Limit: 100, Offset: 0}, Page{Limit: 1000, Offset: -5}.normalize())
	assert.Equal(t, Page{Limit: 10, Offset: 30}, Page{Limit: 10, Offset: 30}.normalize())
}

func TestSearchPlans_QueryUsesSameArgTwice(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`WHERE state = \$1 AND \(upper\(name\) LIKE \$2 OR upper\(issuer\) LIKE \$2\) ORDER BY`).
		WithArgs("TX", "%GOLD%", 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"plan_id", "name", "issuer", "plan_type", "state"}).
			AddRow("P1", "Gold PPO", "Acme", "PPO", "TX"))

	plans, err := s.SearchPlans(context.Background(), PlanFilter{State: "Texas", Query: "gold"})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Gold PPO", plans[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveLocations_MatchesExisting(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`FROM directory.locations WHERE left\(zip, 5\) = ANY\(\$1\) ORDER BY id`).
		WithArgs([]string{"55101"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "address_line1", "address_line2", "city", "state", "zip", "name",
			"health_system", "facility_type", "provider_count", "updated_at",
		}).
			AddRow(int64(7), "100 N First St", "", "St. Paul", "MN", "55101", "", "", "", 4, ts).
			AddRow(int64(9), "100 North 1st Street", "", "Saint Paul", "MN", "55101", "", "", "", 1, ts))

	ids, err := s.ResolveLocations(context.Background(), []model.Location{
		{AddressLine1: "100 North First Street Suite 12", City: "Saint Paul", State: "Minnesota", Zip: "55101-0001"},
		{AddressLine1: "", City: "Saint Paul", State: "MN", Zip: "55101"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 0}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveLocations_Empty(t *testing.T) {
	s := NewStore(newMock(t))
	ids, err := s.ResolveLocations(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpsertAcceptance_NormalizesScores(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	a := &model.ProviderPlanAcceptance{
		NPI: "1234567890", PlanID: "P1", Status: model.StatusAccepted,
		DataSourceScore: 40, RecencyScore: 28, VerificationScore: 15, AgreementScore: 14,
		ConfidenceScore: 99, VerificationCount: 3, DataSource: model.SourceCMSData,
	}

	mock.ExpectQuery(`(?s)INSERT INTO directory.provider_plan_acceptance\s.* ON CONFLICT \(npi, plan_id\) DO UPDATE SET\s.*RETURNING id, created_at`).
		WithArgs("1234567890", "P1", "ACCEPTED", (*bool)(nil), 82.0, 25.0, 28.0, 15.0, 14.0, 3, (*time.Time)(nil), "CMS_DATA", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), ts))

	require.NoError(t, s.UpsertAcceptance(context.Background(), a))
	assert.Equal(t, int64(11), a.ID)
	assert.InDelta(t, 82.0, a.ConfidenceScore, 0.001)
	assert.InDelta(t, 25.0, a.DataSourceScore, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_CommitAndRollback(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("1234567890|P1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx *Store) error {
		return tx.LockPair(context.Background(), "1234567890", "P1")
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	err = s.InTx(context.Background(), func(*Store) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyVote_FirstVote(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	id := "6f1c1a52-2f7e-4a43-9d7e-2b8f3c9d0a11"

	mock.ExpectQuery(`SELECT direction FROM directory.vote_logs`).
		WithArgs(id, "voter").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO directory.vote_logs`).
		WithArgs(id, "voter", "up").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`UPDATE directory.verification_logs\s+SET upvotes = upvotes \+ \$2, downvotes = downvotes \+ \$3`).
		WithArgs(id, 1, 0).
		WillReturnRows(pgxmock.NewRows([]string{"upvotes", "downvotes"}).AddRow(4, 1))

	res, err := s.ApplyVote(context.Background(), id, "voter", model.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Upvotes: 4, Downvotes: 1, Changed: true}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyVote_SwitchDirection(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	id := "6f1c1a52-2f7e-4a43-9d7e-2b8f3c9d0a11"

	mock.ExpectQuery(`SELECT direction FROM directory.vote_logs`).
		WithArgs(id, "voter").
		WillReturnRows(pgxmock.NewRows([]string{"direction"}).AddRow("up"))
	mock.ExpectExec(`UPDATE directory.vote_logs SET direction`).
		WithArgs(id, "voter", "down").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`UPDATE directory.verification_logs`).
		WithArgs(id, -1, 1).
		WillReturnRows(pgxmock.NewRows([]string{"upvotes", "downvotes"}).AddRow(3, 2))

	res, err := s.ApplyVote(context.Background(), id, "voter", model.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Upvotes: 3, Downvotes: 2, Changed: true}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyVote_RepeatIsNoop(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)
	id := "6f1c1a52-2f7e-4a43-9d7e-2b8f3c9d0a11"

	mock.ExpectQuery(`SELECT direction FROM directory.vote_logs`).
		WithArgs(id, "voter").
		WillReturnRows(pgxmock.NewRows([]string{"direction"}).AddRow("up"))
	mock.ExpectQuery(`SELECT upvotes, downvotes FROM directory.verification_logs`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"upvotes", "downvotes"}).AddRow(4, 1))

	res, err := s.ApplyVote(context.Background(), id, "voter", model.VoteUp)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 4, res.Upvotes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetApproval_AlreadyReviewed(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectExec(`UPDATE directory.verification_logs SET is_approved = \$2\s+WHERE id = \$1::uuid AND is_approved IS NULL`).
		WithArgs("abc", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetApproval(context.Background(), "abc", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyReviewed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertVerification_RejectsBadID(t *testing.T) {
	s := NewStore(newMock(t))
	err := s.InsertVerification(context.Background(), &model.VerificationLog{ID: "not-a-uuid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification id")
}

func TestVerificationsForPairs_Groups(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	cols := []string{"id", "npi", "plan_id", "source", "claimed_status", "claimed_accepts_new_patients",
		"notes", "submitted_by", "upvotes", "downvotes", "is_approved", "created_at"}
	mock.ExpectQuery(`unnest\(\$1::text\[\], \$2::text\[\]\)`).
		WithArgs([]string{"1111111111", "2222222222"}, []string{"P1", "P2"}).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("a", "1111111111", "P1", "CROWDSOURCE", "ACCEPTED", (*bool)(nil), "", "h", 0, 0, (*bool)(nil), ts).
			AddRow("b", "1111111111", "P1", "PHONE_CALL", "ACCEPTED", (*bool)(nil), "", "h2", 0, 0, (*bool)(nil), ts).
			AddRow("c", "2222222222", "P2", "CMS_DATA", "NOT_ACCEPTED", (*bool)(nil), "", "", 0, 0, (*bool)(nil), ts))

	got, err := s.VerificationsForPairs(context.Background(), []PairKey{
		{NPI: "1111111111", PlanID: "P1"}, {NPI: "2222222222", PlanID: "P2"},
	})
	require.NoError(t, err)
	assert.Len(t, got[PairKey{"1111111111", "P1"}], 2)
	require.Len(t, got[PairKey{"2222222222", "P2"}], 1)
	assert.Equal(t, model.StatusNotAccepted, got[PairKey{"2222222222", "P2"}][0].ClaimedStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKnownPairs(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock)

	mock.ExpectQuery(`(?s)FROM unnest\(\$1::text\[\], \$2::text\[\]\) AS k\(npi, plan_id\)\s+JOIN directory.providers`).
		WithArgs([]string{"1111111111", "2222222222"}, []string{"P1", "P9"}).
		WillReturnRows(pgxmock.NewRows([]string{"npi", "plan_id"}).AddRow("1111111111", "P1"))

	got, err := s.KnownPairs(context.Background(), []PairKey{
		{NPI: "1111111111", PlanID: "P1"}, {NPI: "2222222222", PlanID: "P9"},
	})
	require.NoError(t, err)
	assert.True(t, got[PairKey{"1111111111", "P1"}])
	assert.False(t, got[PairKey{"2222222222", "P9"}])
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := s.KnownPairs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
