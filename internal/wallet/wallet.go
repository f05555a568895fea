// Package wallet implements both sides of the stablecoin payment rail:
// the server-side x402 payload parsing and EIP-3009 signature
// verification the gateway runs on every paid request (x402.go), and a
// client-side payer wallet the operator CLI uses to place a real paid
// query against its own oracle (`oraclectl pay`). The payer key lives in
// the OS keyring, never on disk.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	// USDC contract address on Base
	USDCBaseAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	// Base mainnet RPC (public fallback)
	BaseMainnetRPC = "https://mainnet.base.org"
	// Base sepolia RPC (for testing)
	BaseSepoliaRPC = "https://sepolia.base.org"
	// Solana mainnet RPC (public fallback)
	SolanaMainnetRPC = "https://api.mainnet-beta.solana.com"
	// USDC SPL mint on Solana mainnet
	USDCSolanaMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	// USDC SPL mint on Solana devnet
	USDCSolanaDevnetMint = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// usdcBalanceOfSelector is the 4-byte selector for balanceOf(address).
var usdcBalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// Wallet is the operator's payer-side EVM wallet. The private key is
// held by the OS keyring under a label, loaded only for the duration of
// a single signing operation and zeroed after.
type Wallet struct {
	Address common.Address
	label   string
	keyring keyring.Keyring
	network string
	rpcURL  string
}

// Options selects which keyring entry and network a Wallet binds to.
type Options struct {
	Label   string // keyring entry label, e.g. "selftest"
	Network string // "base" or "base-sepolia"
}

// New opens the keyring and loads the wallet under opts.Label if one
// exists. A missing wallet is not an error; Exists reports false until
// Create or Import stores a key.
func New(opts Options) (*Wallet, error) {
	rpcURL := BaseMainnetRPC
	if opts.Network == "base-sepolia" {
		rpcURL = BaseSepoliaRPC
	}

	ring, err := openKeyring()
	if err != nil {
		return nil, fmt.Errorf("wallet: open keyring: %w", err)
	}

	w := &Wallet{
		label:   opts.Label,
		keyring: ring,
		network: opts.Network,
		rpcURL:  rpcURL,
	}
	_ = w.load()
	return w, nil
}

// openKeyring opens the platform keyring. On Linux every supported
// backend is allowed (Secret Service, KWallet, pass) and the keyring
// library picks whichever the session provides; a headless host with
// none of them gets an explicit error rather than a silent file
// fallback, since this stores a funded private key.
func openKeyring() (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName:              "oraclegate",
		KeychainName:             "oraclegate",
		KeychainTrustApplication: true,
	}
	if runtime.GOOS == "linux" {
		cfg.AllowedBackends = []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		}
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("no secure keyring available (%w); install gnome-keyring, kwallet, or pass and retry — see `oraclectl doctor`", err)
	}
	return ring, nil
}

// Create generates a fresh payer key and stores it in the keyring.
func (w *Wallet) Create() error {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("wallet: generate key: %w", err)
	}
	defer zeroKey(priv)
	return w.store(priv)
}

// Import stores an existing private key (hex, with or without 0x).
func (w *Wallet) Import(privateKeyHex string) error {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("wallet: invalid private key: %w", err)
	}
	defer zeroKey(priv)
	return w.store(priv)
}

func (w *Wallet) store(priv *ecdsa.PrivateKey) error {
	w.Address = crypto.PubkeyToAddress(priv.PublicKey)
	err := w.keyring.Set(keyring.Item{
		Key:  w.keyID(),
		Data: []byte(hex.EncodeToString(crypto.FromECDSA(priv))),
	})
	if err != nil {
		return fmt.Errorf("wallet: store key: %w", err)
	}
	return nil
}

// AddressString returns the payer address as 0x-prefixed hex.
func (w *Wallet) AddressString() string {
	return w.Address.Hex()
}

// Exists reports whether a key is stored under this wallet's label.
func (w *Wallet) Exists() bool {
	_, err := w.keyring.Get(w.keyID())
	return err == nil
}

// Delete removes the payer key from the keyring.
func (w *Wallet) Delete() error {
	return w.keyring.Remove(w.keyID())
}

// USDCBalance reads the payer's USDC balance via an eth_call against
// the network's USDC contract, in token base units (6 decimals).
func (w *Wallet) USDCBalance(ctx context.Context) (*big.Int, error) {
	if w.Address == (common.Address{}) {
		return nil, fmt.Errorf("wallet: not initialized")
	}

	client, err := ethclient.DialContext(ctx, w.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: connect to %s: %w", w.rpcURL, err)
	}
	defer client.Close()

	data := append(usdcBalanceOfSelector, common.LeftPadBytes(w.Address.Bytes(), 32)...)
	msg := map[string]interface{}{
		"to":   TokenAddressForNetwork(w.network),
		"data": hex.EncodeToString(data),
	}

	var result string
	if err := client.Client().CallContext(ctx, &result, "eth_call", msg, "latest"); err != nil {
		return nil, fmt.Errorf("wallet: balanceOf call: %w", err)
	}

	balance := new(big.Int)
	balance.SetString(strings.TrimPrefix(result, "0x"), 16)
	return balance, nil
}

func (w *Wallet) keyID() string {
	return "payer-" + w.label
}

func (w *Wallet) load() error {
	item, err := w.keyring.Get(w.keyID())
	if err != nil {
		return err
	}

	priv, err := crypto.HexToECDSA(string(item.Data))
	if err != nil {
		return fmt.Errorf("wallet: parse stored key: %w", err)
	}
	defer zeroKey(priv)

	w.Address = crypto.PubkeyToAddress(priv.PublicKey)
	return nil
}

func (w *Wallet) getPrivateKey() (*ecdsa.PrivateKey, error) {
	item, err := w.keyring.Get(w.keyID())
	if err != nil {
		return nil, fmt.Errorf("wallet: no key stored under %q: %w", w.label, err)
	}

	priv, err := crypto.HexToECDSA(string(item.Data))
	if err != nil {
		return nil, fmt.Errorf("wallet: parse key: %w", err)
	}
	return priv, nil
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetUint64(0)
	}
}

// CheckKeyringAvailability probes the OS keyring with a store/read/remove
// round trip, reporting the backend in use. `oraclectl doctor` surfaces
// the result before the operator tries to create a payer wallet.
func CheckKeyringAvailability() (bool, string, error) {
	ring, err := openKeyring()
	if err != nil {
		return false, "", err
	}

	if err := ring.Set(keyring.Item{Key: "__probe__", Data: []byte("probe")}); err != nil {
		return false, "", fmt.Errorf("keyring write failed: %w", err)
	}
	if _, err := ring.Get("__probe__"); err != nil {
		return false, "", fmt.Errorf("keyring read failed: %w", err)
	}
	_ = ring.Remove("__probe__")

	backend := "unknown"
	switch runtime.GOOS {
	case "darwin":
		backend = "keychain"
	case "windows":
		backend = "wincred"
	case "linux":
		backend = "secret-service/kwallet/pass"
	}
	return true, backend, nil
}
