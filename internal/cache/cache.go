// Package cache holds the checksum-keyed asset stores shared by every record.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// ErrNotFound is returned by Get for content that is not cached.
var ErrNotFound = errors.New("content not cached")

var checksumRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// validChecksum keeps checksums usable as file names and object keys.
func validChecksum(checksum string) error {
	if !checksumRe.MatchString(checksum) {
		return fmt.Errorf("invalid checksum %q", checksum)
	}
	return nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
