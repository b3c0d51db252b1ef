package boltstore

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func decodeInto(encoded []byte, out any) error {
	if err := msgpack.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("boltstore: decode: %w", err)
	}
	return nil
}
