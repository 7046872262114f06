package deezer

import (
	"crypto/md5"
	"encoding/hex"
)

// DeriveTrackKey computes the 16-byte blowfish key for a track's stripe
// cipher. The two halves of the hex-encoded md5 of the track id are XORed
// byte-wise with each other and with the account secret.
func DeriveTrackKey(trackID string, secret []byte) []byte {
	sum := md5.Sum([]byte(trackID))
	hexed := hex.EncodeToString(sum[:])

	key := make([]byte, 16)
	for i := 0; i < 16; i++ {
		key[i] = hexed[i] ^ hexed[i+16] ^ secret[i]
	}
	return key
}
