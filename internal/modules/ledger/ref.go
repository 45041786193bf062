// Package ledger is the durable record of pipeline runs: run status, every
// stage attempt, the artifacts each stage produced and the recommendations
// a run handed to review.
//
// All mutations run through database.DB.WriteTx so that a stage's output
// and its succeeded status are written in one transaction.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Ref returns a stable content reference for v, e.g. "directives:3f2a...".
// Map keys are sorted so equal values always produce equal refs.
func Ref(kind string, v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode %s for ref: %w", kind, err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return kind + ":" + hex.EncodeToString(sum[:12]), nil
}

func encodeBlob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlob(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return msgpack.Unmarshal(data, v)
}
