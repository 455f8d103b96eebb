package conf

import (
	"crypto/sha256"
	"encoding/hex"
)

// SecretDigestHex computes hex(sha256(secret+salt)), the value stored in
// the resources.csv sha256hex column and produced by `--sha256gen`
// (spec §6).
func SecretDigestHex(secret, salt string) string {
	sum := sha256.Sum256([]byte(secret + salt))
	return hex.EncodeToString(sum[:])
}
