package testutil

import (
	"bytes"

	"adhoc-backup/internal/checksum"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string,
// the format used for staged item digests.
func SHA256Hex(data []byte) string {
	sum, err := checksum.Reader(bytes.NewReader(data))
	if err != nil {
		panic(err) // reading from memory cannot fail
	}
	return sum
}
