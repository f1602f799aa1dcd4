package worker

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype for gob-encoded messages. The
// control protocol runs between identical binaries of this module, so the
// messages are plain Go structs and gob carries them without an IDL.
const CodecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
