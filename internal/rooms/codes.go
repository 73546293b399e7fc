package rooms

import (
	"crypto/rand"
	"math/big"
)

// Room IDs are entered by hand, mixed case plus digits.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const idLength = 6

// GenerateRoomID returns a random 6-character room identifier. Collisions
// are possible and handled by the caller re-checking the store.
func GenerateRoomID() (string, error) {
	id := make([]byte, idLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		id[i] = alphabet[n.Int64()]
	}
	return string(id), nil
}
