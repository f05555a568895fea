// Package macaroon mints and verifies the lightning-channel rail's
// bearer tokens. A macaroon's identifier binds a scheme version, the
// 32-byte payment hash of the invoice it was issued against, and a
// 32-byte random token identifier, authenticated with HMAC-SHA256 under
// the keystore's persistent root secret. Unlike a full Macaroons
// implementation, there are no third-party caveats: the oracle mints
// and verifies its own tokens end to end, so the identifier plus one
// MAC is the entire token.
package macaroon

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SchemeVersion is the first field of every minted identifier. Bumping
// it invalidates every outstanding token against the same root secret.
const SchemeVersion = 1

const (
	paymentHashLen = 32
	tokenIDLen     = 32
	macLen         = sha256.Size
)

var (
	// ErrMalformed means the token did not parse into its constituent
	// parts at all (wrong length, bad encoding).
	ErrMalformed = errors.New("macaroon: malformed token")
	// ErrMACInvalid means the identifier's HMAC did not verify against
	// the root secret — the token was not minted by this process, or
	// was minted under a previous root secret.
	ErrMACInvalid = errors.New("macaroon: MAC verification failed")
	// ErrPreimageMismatch means the presented preimage hashes to a
	// value other than the payment hash embedded in the identifier.
	ErrPreimageMismatch = errors.New("macaroon: preimage does not match payment hash")
)

// Macaroon is the oracle-minted access token bound to one Lightning
// invoice's payment hash.
type Macaroon struct {
	Version     int
	PaymentHash [paymentHashLen]byte
	TokenID     [tokenIDLen]byte
	mac         [macLen]byte
}

// Mint produces a fresh macaroon bound to paymentHash, authenticated
// under rootSecret. The token identifier is 32 bytes of crypto/rand,
// generated fresh for every invoice — two macaroons for the same
// invoice (should that ever happen) carry distinct, independently
// revocable identifiers.
func Mint(rootSecret []byte, paymentHash [paymentHashLen]byte) (Macaroon, error) {
	var tokenID [tokenIDLen]byte
	if _, err := rand.Read(tokenID[:]); err != nil {
		return Macaroon{}, fmt.Errorf("macaroon: generate token id: %w", err)
	}

	m := Macaroon{
		Version:     SchemeVersion,
		PaymentHash: paymentHash,
		TokenID:     tokenID,
	}
	m.mac = computeMAC(rootSecret, m.Version, m.PaymentHash, m.TokenID)
	return m, nil
}

// computeMAC authenticates version||payment_hash||token_id under
// HMAC-SHA256(rootSecret, ...).
func computeMAC(rootSecret []byte, version int, paymentHash [paymentHashLen]byte, tokenID [tokenIDLen]byte) [macLen]byte {
	h := hmac.New(sha256.New, rootSecret)
	h.Write([]byte{byte(version)})
	h.Write(paymentHash[:])
	h.Write(tokenID[:])
	var out [macLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Encode serializes the macaroon as base64(version|payment_hash|token_id|mac),
// the form returned in a WWW-Authenticate challenge and re-presented by
// the client on redemption.
func (m Macaroon) Encode() string {
	buf := make([]byte, 0, 1+paymentHashLen+tokenIDLen+macLen)
	buf = append(buf, byte(m.Version))
	buf = append(buf, m.PaymentHash[:]...)
	buf = append(buf, m.TokenID[:]...)
	buf = append(buf, m.mac[:]...)
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode parses an encoded macaroon without verifying its MAC. Callers
// must call Verify before trusting any field.
func Decode(encoded string) (Macaroon, error) {
	encoded = strings.TrimSpace(encoded)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some clients pass the hex-encoded form instead of base64.
		raw, err = hex.DecodeString(encoded)
		if err != nil {
			return Macaroon{}, ErrMalformed
		}
	}

	want := 1 + paymentHashLen + tokenIDLen + macLen
	if len(raw) != want {
		return Macaroon{}, ErrMalformed
	}

	var m Macaroon
	m.Version = int(raw[0])
	off := 1
	copy(m.PaymentHash[:], raw[off:off+paymentHashLen])
	off += paymentHashLen
	copy(m.TokenID[:], raw[off:off+tokenIDLen])
	off += tokenIDLen
	copy(m.mac[:], raw[off:off+macLen])

	return m, nil
}

// Verify checks the macaroon's MAC against rootSecret in constant time.
func (m Macaroon) Verify(rootSecret []byte) error {
	want := computeMAC(rootSecret, m.Version, m.PaymentHash, m.TokenID)
	if subtle.ConstantTimeCompare(want[:], m.mac[:]) != 1 {
		return ErrMACInvalid
	}
	return nil
}

// VerifyPreimage checks that preimage hashes (SHA-256) to the payment
// hash embedded in the macaroon's identifier — proof that the bearer
// paid the invoice the macaroon was minted against.
func (m Macaroon) VerifyPreimage(preimage [32]byte) error {
	got := sha256.Sum256(preimage[:])
	if subtle.ConstantTimeCompare(got[:], m.PaymentHash[:]) != 1 {
		return ErrPreimageMismatch
	}
	return nil
}

// Token is the full bearer credential presented on retry: the macaroon
// plus the preimage proving the underlying invoice was paid. Parsed
// from the `Authorization: L402 <macaroon>:<preimage_hex>` header.
type Token struct {
	Macaroon Macaroon
	Preimage [32]byte
}

// ParseAuthorizationHeader parses `L402 <macaroon_b64_or_hex>:<preimage_hex>`
// into its macaroon and preimage, without verifying either against the
// root secret. Callers must call ValidateToken next.
func ParseAuthorizationHeader(header string) (Token, error) {
	const prefix = "L402 "
	if !strings.HasPrefix(header, prefix) {
		return Token{}, ErrMalformed
	}
	rest := strings.TrimPrefix(header, prefix)

	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return Token{}, ErrMalformed
	}
	macPart, preimagePart := rest[:idx], rest[idx+1:]

	m, err := Decode(macPart)
	if err != nil {
		return Token{}, err
	}

	preimageBytes, err := hex.DecodeString(preimagePart)
	if err != nil || len(preimageBytes) != 32 {
		return Token{}, ErrMalformed
	}
	var preimage [32]byte
	copy(preimage[:], preimageBytes)

	return Token{Macaroon: m, Preimage: preimage}, nil
}

// PaymentHashHex renders the macaroon's embedded payment hash as
// lowercase hex, the stable identifier a redeemed token is logged and
// metered under.
func (t Token) PaymentHashHex() string {
	return hex.EncodeToString(t.Macaroon.PaymentHash[:])
}

// Validate verifies the token's macaroon MAC under rootSecret and
// confirms the presented preimage matches the embedded payment hash.
// No upstream call is required: the preimage alone is proof of payment
// to whichever node issued the invoice.
func Validate(rootSecret []byte, t Token) error {
	if err := t.Macaroon.Verify(rootSecret); err != nil {
		return err
	}
	return t.Macaroon.VerifyPreimage(t.Preimage)
}

// Challenge formats the WWW-Authenticate header value for a 402
// response: `L402 macaroon="<b64>", invoice="<bolt11>"`.
func Challenge(m Macaroon, invoice string) string {
	return fmt.Sprintf(`L402 macaroon="%s", invoice="%s"`, m.Encode(), invoice)
}
