package store

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// ContentHash returns the change-detection hash stored with each file.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(content))
}
