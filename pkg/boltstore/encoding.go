package boltstore

import (
	"bytes"
	"encoding/gob"
)

// Records are stored gob-encoded. None of them carry interface fields, so
// no type registration is needed.

func encode[T any](v *T) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes(), err
}

func decode[T any](data []byte) (*T, error) {
	v := new(T)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}
