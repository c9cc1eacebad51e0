package wire

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec packs the envelope as MessagePack for sessions that
// negotiate the binary format on auth (sent as ws binary messages).
// Only the envelope is repacked; the Data payload stays raw JSON bytes.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(frame *Frame) ([]byte, error) {
	return msgpack.Marshal(frame)
}

func (c *MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
