package webpush

import (
	"encoding/base64"
	"encoding/binary"
)

const (
	// recordSize is the fixed rs field of the aes128gcm content-coding
	// header. Payloads must fit a single record; multi-record chunking is
	// not supported.
	recordSize = 4096

	// headerLen is salt (16) + rs (4) + idlen (1) + keyid (65).
	headerLen = 86

	saltLen       = 16
	publicKeyLen  = 65 // uncompressed P-256 point
	authSecretLen = 16

	// delimiter marks the end of plaintext in the final record.
	delimiter byte = 0x02
)

// encodeB64 returns the unpadded base64url form used throughout the Web Push
// wire format.
func encodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// contentHeader assembles the 86-byte aes128gcm header:
// salt (16) || rs (4, big-endian) || idlen (1) || keyid (65).
func contentHeader(salt, ephemeralPub []byte) []byte {
	h := make([]byte, 0, headerLen)
	h = append(h, salt...)
	h = binary.BigEndian.AppendUint32(h, recordSize)
	h = append(h, byte(len(ephemeralPub)))
	h = append(h, ephemeralPub...)
	return h
}
