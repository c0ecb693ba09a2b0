package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"openrate/core/types"
	"openrate/native/custody"
)

const (
	mintSeed        = "mint"
	maxSymbolLength = 16
	maxDecimals     = 18
)

// MintIDForSymbol derives the mint identifier registered for a symbol.
func MintIDForSymbol(symbol string) [20]byte {
	digest := ethcrypto.Keccak256([]byte(mintSeed), []byte(normalizeSymbol(symbol)))
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > maxSymbolLength {
		return false
	}
	for _, r := range symbol {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// RegisterMint records a new token type so markets can be created for it.
func (e *Engine) RegisterMint(ctx context.Context, symbol string, decimals uint8) (*Mint, error) {
	normalized := normalizeSymbol(symbol)
	if !validSymbol(normalized) {
		return nil, fmt.Errorf("%w: symbol %q", ErrInvalidMint, symbol)
	}
	if decimals > maxDecimals {
		return nil, fmt.Errorf("%w: decimals must not exceed %d", ErrInvalidMint, maxDecimals)
	}
	mint := &Mint{ID: MintIDForSymbol(normalized), Symbol: normalized, Decimals: decimals}
	err := e.execute(ctx, execOptions{operation: "register_mint", market: MarketID(mint.ID)}, func(tx Tx, emit func(*types.Event)) error {
		if _, exists, err := tx.MintGet(mint.ID); err != nil {
			return err
		} else if exists {
			return ErrMintExists
		}
		mint.CreatedAt = e.now()
		if err := tx.MintCreate(mint.Clone()); err != nil {
			return err
		}
		emit(NewMintRegisteredEvent(mint))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mint.Clone(), nil
}

// Credit mints tokens into a participant account. Vault authority accounts
// cannot be credited since their holdings must match market accounting.
func (e *Engine) Credit(ctx context.Context, mint, owner [20]byte, amount uint64) error {
	if amount == 0 || amount > MaxAmount {
		return ErrInvalidAmount
	}
	marketID := MarketID(mint)
	if owner == custody.VaultAuthority(marketID) || owner == ([20]byte{}) {
		return ErrInvalidCredit
	}
	err := e.execute(ctx, execOptions{operation: "credit", market: marketID}, func(tx Tx, emit func(*types.Event)) error {
		if _, ok, err := tx.MintGet(mint); err != nil {
			return err
		} else if !ok {
			return ErrMintNotFound
		}
		if err := tx.Credit(owner, mint, amount); err != nil {
			if errors.Is(err, custody.ErrBalanceOverflow) {
				return ErrAmountOverflow
			}
			return err
		}
		emit(NewAccountCreditedEvent(owner, mint, amount))
		return nil
	})
	if err == nil {
		e.metrics.AddVolume("credit", amount)
	}
	return err
}

// InitializeMarket creates the market and its empty vault for a registered
// mint. The caller becomes the market authority.
func (e *Engine) InitializeMarket(ctx context.Context, mint, authority [20]byte) (*Market, *Vault, error) {
	if len(e.authorities) > 0 {
		if _, ok := e.authorities[authority]; !ok {
			return nil, nil, ErrNotAuthority
		}
	}
	id := MarketID(mint)
	var (
		created *Market
		vault   *Vault
	)
	err := e.execute(ctx, execOptions{operation: "initialize_market", market: id, reconcile: true}, func(tx Tx, emit func(*types.Event)) error {
		if _, ok, err := tx.MintGet(mint); err != nil {
			return err
		} else if !ok {
			return ErrMintNotFound
		}
		if _, exists, err := tx.MarketGet(id); err != nil {
			return err
		} else if exists {
			return ErrAlreadyExists
		}
		vaultID := VaultID(mint)
		if _, exists, err := tx.VaultGet(vaultID); err != nil {
			return err
		} else if exists {
			return ErrAlreadyExists
		}
		now := e.now()
		created = &Market{
			ID:        id,
			Mint:      mint,
			Authority: authority,
			Vault:     vaultID,
			CreatedAt: now,
		}
		vault = &Vault{
			ID:        vaultID,
			Market:    id,
			Mint:      mint,
			Authority: custody.VaultAuthority(id),
		}
		if err := tx.MarketCreate(created.Clone()); err != nil {
			return err
		}
		if err := tx.VaultCreate(vault.Clone()); err != nil {
			return err
		}
		emit(NewMarketCreatedEvent(created, vault))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created.Clone(), vault.Clone(), nil
}
