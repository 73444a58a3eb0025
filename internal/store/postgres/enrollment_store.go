package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maqzone/livebid/internal/domain"
)

const enrollmentColumns = `id, auction_id, user_id, status, created_at, decided_at`

// EnrollmentStore implements domain.EnrollmentStore. The (auction_id,
// user_id) unique constraint collapses duplicate requests.
type EnrollmentStore struct {
	pool *pgxpool.Pool
}

// NewEnrollmentStore creates an EnrollmentStore backed by pool.
func NewEnrollmentStore(pool *pgxpool.Pool) *EnrollmentStore {
	return &EnrollmentStore{pool: pool}
}

func (s *EnrollmentStore) Request(ctx context.Context, auctionID, userID int64) (domain.Enrollment, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO enrollments (auction_id, user_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (auction_id, user_id) DO NOTHING
		RETURNING `+enrollmentColumns,
		auctionID, userID,
	)
	e, err := scanEnrollment(row)
	switch {
	case err == nil:
		return e, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.Enrollment{}, false, fmt.Errorf("postgres: request enrollment %d/%d: %w", auctionID, userID, err)
	}

	existing, err := s.Get(ctx, auctionID, userID)
	if err != nil {
		return domain.Enrollment{}, false, err
	}
	return existing, false, nil
}

func (s *EnrollmentStore) Get(ctx context.Context, auctionID, userID int64) (domain.Enrollment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE auction_id = $1 AND user_id = $2`,
		auctionID, userID,
	)
	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Enrollment{}, domain.ErrNotFound
		}
		return domain.Enrollment{}, fmt.Errorf("postgres: get enrollment %d/%d: %w", auctionID, userID, err)
	}
	return e, nil
}

func (s *EnrollmentStore) Decide(ctx context.Context, auctionID, userID int64, to domain.EnrollmentStatus) (domain.Enrollment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE enrollments SET status = $3, decided_at = NOW()
		WHERE auction_id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING `+enrollmentColumns,
		auctionID, userID, string(to),
	)
	e, err := scanEnrollment(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Enrollment{}, fmt.Errorf("postgres: decide enrollment %d/%d: %w", auctionID, userID, err)
	}
	if _, err := s.Get(ctx, auctionID, userID); err != nil {
		return domain.Enrollment{}, err
	}
	return domain.Enrollment{}, domain.ErrInvalidTransition
}

func (s *EnrollmentStore) ListByAuction(ctx context.Context, auctionID int64) ([]domain.Enrollment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE auction_id = $1 ORDER BY id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enrollments %d: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEnrollment(row scanner) (domain.Enrollment, error) {
	var (
		e      domain.Enrollment
		status string
	)
	if err := row.Scan(&e.ID, &e.AuctionID, &e.UserID, &status, &e.CreatedAt, &e.DecidedAt); err != nil {
		return domain.Enrollment{}, err
	}
	e.Status = domain.EnrollmentStatus(status)
	return e, nil
}

var _ domain.EnrollmentStore = (*EnrollmentStore)(nil)
