package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature [R || S || V].
const SignatureLength = crypto.SignatureLength

// Keccak256 hashes the concatenation of the supplied byte slices.
func Keccak256(data ...[]byte) [32]byte {
	return crypto.Keccak256Hash(data...)
}

// SignDigest produces a recoverable signature over a 32-byte digest.
func (k *PrivateKey) SignDigest(digest [32]byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(digest[:], k.PrivateKey)
}

// RecoverAccount returns the account that produced sig over digest. Both the
// raw 0/1 and the legacy 27/28 recovery ids are accepted.
func RecoverAccount(digest [32]byte, sig []byte) ([20]byte, error) {
	if len(sig) != SignatureLength {
		return [20]byte{}, fmt.Errorf("crypto: signature must be %d bytes", SignatureLength)
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	var out [20]byte
	copy(out[:], crypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}
