package store

import (
	"bytes"
	"encoding/gob"

	"envelope.lock/internal/models"
)

// Record encoding shared by the redis and badger backends.

func encode(env *models.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Envelope, error) {
	var env models.Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
