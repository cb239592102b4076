// Package store is the relational read/write surface of the orchestrator.
// It only reads proposal and vote state and records mint outcomes; full CRUD
// for users, artwork, and votes lives in the platform's app backend. Every
// write is idempotent so the chain-replay reconciler can re-apply results.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Proposal is the read model for a vote-approved artwork proposal.
type Proposal struct {
	ID                int64
	ArtistAddress     string
	TokenURI          string
	VoteCount         int64
	InitialPriceUnits string // smallest token units, decimal string
}

// MintedToken records a completed mint.
type MintedToken struct {
	ProposalID int64
	TokenID    string
	TxHash     string
	MintedAt   time.Time
}

// MintSubmission is a mint transaction whose outcome may not yet be
// recorded. The reconciler replays these against chain receipts.
type MintSubmission struct {
	ProposalID  int64
	TxHash      string
	SubmittedAt time.Time
}

var ErrNotFound = errors.New("not found")

// Store wraps a pgx pool. Schema lives in schema.sql.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// ProposalForMint loads a proposal together with its current vote count.
func (s *Store) ProposalForMint(ctx context.Context, proposalID int64) (*Proposal, error) {
	query := `
		SELECT p.id, p.artist_address, p.token_uri, p.initial_price_units::text,
		       COUNT(v.id) FILTER (WHERE v.approve)
		FROM proposals p
		LEFT JOIN votes v ON v.proposal_id = p.id
		WHERE p.id = $1
		GROUP BY p.id
	`
	var p Proposal
	err := s.pool.QueryRow(ctx, query, proposalID).Scan(
		&p.ID, &p.ArtistAddress, &p.TokenURI, &p.InitialPriceUnits, &p.VoteCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", proposalID, err)
	}
	return &p, nil
}

// RecordMintSubmission notes a mint transaction before its outcome is known,
// so a crash between on-chain success and RecordMintedToken is recoverable.
func (s *Store) RecordMintSubmission(ctx context.Context, proposalID int64, txHash string) error {
	query := `
		INSERT INTO mint_submissions (proposal_id, tx_hash, submitted_at)
		VALUES ($1, $2, now())
		ON CONFLICT (proposal_id, tx_hash) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, proposalID, txHash); err != nil {
		return fmt.Errorf("record mint submission: %w", err)
	}
	return nil
}

// RecordMintedToken writes the final mint outcome. Idempotent: replaying the
// same receipt is a no-op.
func (s *Store) RecordMintedToken(ctx context.Context, proposalID int64, tokenID, txHash string) error {
	query := `
		INSERT INTO minted_tokens (proposal_id, token_id, tx_hash, minted_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (proposal_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, proposalID, tokenID, txHash); err != nil {
		return fmt.Errorf("record minted token: %w", err)
	}
	return nil
}

// MintedTokenFor returns the mint outcome for a proposal, or ErrNotFound.
func (s *Store) MintedTokenFor(ctx context.Context, proposalID int64) (*MintedToken, error) {
	query := `
		SELECT proposal_id, token_id::text, tx_hash, minted_at
		FROM minted_tokens
		WHERE proposal_id = $1
	`
	var m MintedToken
	err := s.pool.QueryRow(ctx, query, proposalID).Scan(&m.ProposalID, &m.TokenID, &m.TxHash, &m.MintedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load minted token for proposal %d: %w", proposalID, err)
	}
	return &m, nil
}

// ProposalByTokenID finds the proposal an NFT was minted from, used to fall
// back to the proposal's initial price when a listing omits one.
func (s *Store) ProposalByTokenID(ctx context.Context, tokenID string) (*Proposal, error) {
	query := `
		SELECT p.id, p.artist_address, p.token_uri, p.initial_price_units::text,
		       COUNT(v.id) FILTER (WHERE v.approve)
		FROM minted_tokens mt
		JOIN proposals p ON p.id = mt.proposal_id
		LEFT JOIN votes v ON v.proposal_id = p.id
		WHERE mt.token_id = $1::numeric
		GROUP BY p.id
	`
	var p Proposal
	err := s.pool.QueryRow(ctx, query, tokenID).Scan(
		&p.ID, &p.ArtistAddress, &p.TokenURI, &p.InitialPriceUnits, &p.VoteCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal for token %s: %w", tokenID, err)
	}
	return &p, nil
}

// UnreconciledSubmissions returns mint submissions older than minAge whose
// outcome has no minted_tokens row yet.
func (s *Store) UnreconciledSubmissions(ctx context.Context, minAge time.Duration, limit int) ([]MintSubmission, error) {
	query := `
		SELECT ms.proposal_id, ms.tx_hash, ms.submitted_at
		FROM mint_submissions ms
		LEFT JOIN minted_tokens mt ON mt.proposal_id = ms.proposal_id
		WHERE mt.proposal_id IS NULL
		  AND ms.submitted_at < now() - $1::interval
		ORDER BY ms.submitted_at
		LIMIT $2
	`
	interval := fmt.Sprintf("%d seconds", int64(minAge.Seconds()))
	rows, err := s.pool.Query(ctx, query, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("load unreconciled submissions: %w", err)
	}
	defer rows.Close()

	var out []MintSubmission
	for rows.Next() {
		var ms MintSubmission
		if err := rows.Scan(&ms.ProposalID, &ms.TxHash, &ms.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// DropSubmission removes a submission whose transaction is known to have
// failed on chain; the proposal becomes mintable again.
func (s *Store) DropSubmission(ctx context.Context, proposalID int64, txHash string) error {
	query := `DELETE FROM mint_submissions WHERE proposal_id = $1 AND tx_hash = $2`
	if _, err := s.pool.Exec(ctx, query, proposalID, txHash); err != nil {
		return fmt.Errorf("drop submission: %w", err)
	}
	return nil
}
