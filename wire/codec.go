package wire

// Codec serializes the push-channel frame envelope. The format is fixed
// per session: the transport announces its codec name on the auth frame
// and the gateway answers in kind, so client and server never mix
// formats on one connection. Event payloads inside Data stay JSON
// regardless of the envelope codec.
type Codec interface {
	// Encode serializes a frame envelope to bytes.
	Encode(frame *Frame) ([]byte, error)

	// Decode deserializes bytes into a frame envelope.
	Decode(data []byte) (*Frame, error)

	// Name is the format identifier announced on the auth handshake.
	Name() string
}

// Codec names accepted by the render service's messaging gateway.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns the codec for a configured format name. Unknown or
// empty names fall back to JSON, the gateway default.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}
