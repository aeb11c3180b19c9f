package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. The (market_id,
// participant) primary key enforces the one-bet-per-pair rule at the schema
// level.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Create inserts a new bet row; duplicates fail with ErrAlreadyExists.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (market_id, participant, amount, prediction, claimed, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		int64(b.MarketID), b.Participant, b.Amount, b.Prediction, b.Claimed, b.PlacedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create bet %d/%s: %w",
				b.MarketID, b.Participant, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create bet %d/%s: %w", b.MarketID, b.Participant, err)
	}
	return nil
}

// Get retrieves the bet for (marketID, participant).
func (s *BetStore) Get(ctx context.Context, marketID uint64, participant string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market_id, participant, amount, prediction, claimed, placed_at
		 FROM bets WHERE market_id = $1 AND participant = $2`,
		int64(marketID), participant)

	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, fmt.Errorf("postgres: bet %d/%s: %w",
				marketID, participant, domain.ErrNotFound)
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d/%s: %w", marketID, participant, err)
	}
	return b, nil
}

// SetClaimed marks the bet as claimed.
func (s *BetStore) SetClaimed(ctx context.Context, marketID uint64, participant string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET claimed = TRUE WHERE market_id = $1 AND participant = $2`,
		int64(marketID), participant)
	if err != nil {
		return fmt.Errorf("postgres: set claimed %d/%s: %w", marketID, participant, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set claimed %d/%s: %w", marketID, participant, domain.ErrNotFound)
	}
	return nil
}

// ListByMarket returns every bet on the market ordered by placement time.
func (s *BetStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, participant, amount, prediction, claimed, placed_at
		 FROM bets WHERE market_id = $1
		 ORDER BY placed_at, participant`,
		int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	var marketID int64
	err := row.Scan(&marketID, &b.Participant, &b.Amount, &b.Prediction, &b.Claimed, &b.PlacedAt)
	if err != nil {
		return domain.Bet{}, err
	}
	b.MarketID = uint64(marketID)
	return b, nil
}

var _ domain.BetStore = (*BetStore)(nil)
