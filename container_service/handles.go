package container_service

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/zeebo/blake3"
)

const (
	handleLength   = 11
	handleAlphabet = "abcdefghijklmnopqrstuvwyxz0123456789"

	// "c_" plus the id must fit the 20 character SAM account name limit
	idBytes = 9
)

func GenerateHandle() (string, error) {
	max := big.NewInt(int64(len(handleAlphabet)))

	handle := make([]byte, handleLength)
	for i := range handle {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}

		handle[i] = handleAlphabet[n.Int64()]
	}

	return string(handle), nil
}

// GenerateID derives the container id from its handle. The same handle
// always yields the same id.
func GenerateID(handle string) string {
	sum := blake3.Sum256([]byte(handle))
	return hex.EncodeToString(sum[:idBytes])
}
