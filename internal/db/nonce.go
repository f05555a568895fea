package db

import (
	"context"
	"fmt"
	"time"
)

// NonceStatus is the stablecoin-rail single-use nonce's lifecycle state.
type NonceStatus string

const (
	NonceStatusMinted  NonceStatus = "minted"
	NonceStatusUsed    NonceStatus = "used"
	NonceStatusExpired NonceStatus = "expired"
)

// PaymentNonce is a server-minted, single-use, TTL-bound identifier
// bound into a stablecoin-rail payment authorization at challenge time.
type PaymentNonce struct {
	Nonce     string
	Route     string
	Status    NonceStatus
	MintedAt  time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// MintNonce persists a freshly minted nonce as `minted`, strictly before
// it is returned in a 402 challenge body.
func (db *DB) MintNonce(ctx context.Context, nonce, route string, ttl time.Duration) (PaymentNonce, error) {
	pn := PaymentNonce{
		Nonce:     nonce,
		Route:     route,
		Status:    NonceStatusMinted,
		ExpiresAt: time.Now().Add(ttl),
	}

	err := db.QueryRow(ctx,
		`INSERT INTO payment_nonces (nonce, route, status, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING minted_at`,
		pn.Nonce, pn.Route, pn.Status, pn.ExpiresAt,
	).Scan(&pn.MintedAt)
	if err != nil {
		return PaymentNonce{}, fmt.Errorf("failed to mint nonce: %w", err)
	}
	return pn, nil
}

// RedeemNonce performs the nonce's sole state transition:
// minted -> used, as a compare-and-set against a single row so
// concurrent redemption attempts against the same nonce yield exactly
// one success. Returns false (no error) if the nonce was already used,
// expired, or never existed.
func (db *DB) RedeemNonce(ctx context.Context, nonce string) (bool, error) {
	result, err := db.ExecResult(ctx,
		`UPDATE payment_nonces
		 SET status = $2, used_at = NOW()
		 WHERE nonce = $1 AND status = $3 AND expires_at > NOW()`,
		nonce, NonceStatusUsed, NonceStatusMinted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem nonce: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ExpireStaleNonces marks overdue minted nonces as expired; run on the
// same background cadence as settlement reservation expiry.
func (db *DB) ExpireStaleNonces(ctx context.Context) (int64, error) {
	result, err := db.ExecResult(ctx,
		`UPDATE payment_nonces SET status = $1 WHERE status = $2 AND expires_at < NOW()`,
		NonceStatusExpired, NonceStatusMinted,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale nonces: %w", err)
	}
	return result.RowsAffected(), nil
}
