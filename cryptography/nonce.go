package cryptography

import (
	"crypto/rand"
	"math/big"
)

// nonceAlphabet drops symbols and easily confused characters such as 0, o, O, 1, l, i, I
const nonceAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTRVWXYZ23456789"

// NonceStringLength - the nonce string length the gateway protocol expects
const NonceStringLength = 32

// NonceString generates a random nonce string of length n from the unambiguous alphabet
func NonceString(n int) (string, error) {
	max := big.NewInt(int64(len(nonceAlphabet)))
	s := make([]byte, n)
	for i := range s {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		s[i] = nonceAlphabet[idx.Int64()]
	}
	return string(s), nil
}
