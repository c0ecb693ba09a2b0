package market

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	marketSeed       = "market"
	vaultSeed        = "vault"
	bidOrderSeed     = "bid_order"
	borrowRecordSeed = "borrow_record"
)

// MarketID derives the identifier of the market for a mint.
func MarketID(mint [20]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(marketSeed), mint[:])
}

// VaultID derives the identifier of the vault for a mint.
func VaultID(mint [20]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(vaultSeed), mint[:])
}

// BidOrderID derives a bid identifier from the lender, the market and the
// market's bid sequence number at placement time.
func BidOrderID(lender [20]byte, market [32]byte, seq uint64) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(bidOrderSeed), lender[:], market[:], encodeSeq(seq))
}

// BorrowRecordID derives a borrow record identifier from the borrower, the
// funding bid and the bid's draw sequence number.
func BorrowRecordID(borrower [20]byte, bid [32]byte, seq uint64) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(borrowRecordSeed), borrower[:], bid[:], encodeSeq(seq))
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// FormatID renders an identifier as 0x-prefixed hex.
func FormatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseID decodes a 32-byte identifier with or without the 0x prefix.
func ParseID(value string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return [32]byte{}, fmt.Errorf("market: invalid identifier: %w", err)
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("market: identifier must be 32 bytes, got %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}
