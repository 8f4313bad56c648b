package comm

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeEnvelope(e Envelope) ([]byte, error) {
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("comm: encode %s envelope: %w", e.Tag, err)
	}
	return b, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("comm: decode envelope: %w", err)
	}
	return e, nil
}
