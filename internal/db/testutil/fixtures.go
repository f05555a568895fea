package testutil

import (
	"fmt"
	"time"
)

// RandomWalletAddress generates a random Ethereum-shaped wallet address for
// testing payer-enforcement and payment-transaction fixtures.
func RandomWalletAddress() string {
	return fmt.Sprintf("0x%040x", time.Now().UnixNano())
}
