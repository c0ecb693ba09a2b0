// Package custody moves principal between participant balances and market
// vaults. Vault holdings live in a token account owned by an authority address
// that is derived from the market identifier and has no private key; the only
// way to debit it is through this package.
package custody

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInsufficientBalance is returned by Ledger implementations when the
	// source account cannot cover a transfer.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	// ErrVaultShortfall signals that vault holdings do not cover an outgoing
	// transfer the market believes is backed. It indicates corrupted state.
	ErrVaultShortfall = errors.New("custody: vault holdings below requested withdrawal")
	// ErrBalanceOverflow is returned when a credit would exceed the maximum
	// representable balance.
	ErrBalanceOverflow = errors.New("custody: balance overflow")

	errNilLedger  = errors.New("custody: ledger not configured")
	errZeroAmount = errors.New("custody: amount must be positive")
	errSelfMove   = errors.New("custody: source and destination are the same account")
)

const authoritySeed = "vault_authority"

// Ledger is the balance transfer capability custody operates on. Implementations
// must apply Transfer atomically with the surrounding store transaction.
type Ledger interface {
	Balance(owner, mint [20]byte) (uint64, error)
	Transfer(from, to, mint [20]byte, amount uint64) error
}

// Vault identifies the custody account of a single market.
type Vault struct {
	Market [32]byte
	Mint   [20]byte
}

// Authority returns the derived address that owns the vault's token account.
func (v Vault) Authority() [20]byte { return VaultAuthority(v.Market) }

// VaultAuthority derives the keyless authority address for a market vault.
func VaultAuthority(market [32]byte) [20]byte {
	digest := ethcrypto.Keccak256([]byte(authoritySeed), market[:])
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// Deposit moves amount from a participant into the vault.
func Deposit(l Ledger, v Vault, from [20]byte, amount uint64) error {
	if l == nil {
		return errNilLedger
	}
	if amount == 0 {
		return errZeroAmount
	}
	authority := v.Authority()
	if from == authority {
		return errSelfMove
	}
	if err := l.Transfer(from, authority, v.Mint, amount); err != nil {
		return fmt.Errorf("custody: deposit: %w", err)
	}
	return nil
}

// Withdraw releases amount from the vault to a participant. Holdings are
// checked before the transfer so a shortfall is reported as ErrVaultShortfall
// rather than as an ordinary insufficient balance.
func Withdraw(l Ledger, v Vault, to [20]byte, amount uint64) error {
	if l == nil {
		return errNilLedger
	}
	if amount == 0 {
		return errZeroAmount
	}
	authority := v.Authority()
	if to == authority {
		return errSelfMove
	}
	held, err := l.Balance(authority, v.Mint)
	if err != nil {
		return fmt.Errorf("custody: load vault holdings: %w", err)
	}
	if held < amount {
		return fmt.Errorf("%w: held %d, requested %d", ErrVaultShortfall, held, amount)
	}
	if err := l.Transfer(authority, to, v.Mint, amount); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", ErrVaultShortfall, err)
		}
		return fmt.Errorf("custody: withdraw: %w", err)
	}
	return nil
}

// Holdings reports the physical token balance held by the vault.
func Holdings(l Ledger, v Vault) (uint64, error) {
	if l == nil {
		return 0, errNilLedger
	}
	return l.Balance(v.Authority(), v.Mint)
}
