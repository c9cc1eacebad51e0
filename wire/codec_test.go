package wire_test

import (
	"strings"
	"testing"

	"github.com/xraph/courier/wire"
)

func TestGetCodec(t *testing.T) {
	if got := wire.GetCodec("msgpack").Name(); got != wire.CodecNameMsgpack {
		t.Errorf("GetCodec(msgpack).Name() = %q", got)
	}
	if got := wire.GetCodec("").Name(); got != wire.CodecNameJSON {
		t.Errorf("GetCodec(\"\").Name() = %q, want json default", got)
	}
	if got := wire.GetCodec("protobuf").Name(); got != wire.CodecNameJSON {
		t.Errorf("GetCodec(protobuf).Name() = %q, want json fallback", got)
	}
}

func TestCodecs_PreserveFrames(t *testing.T) {
	frame, err := wire.NewRequestFrame(wire.MethodSubscribe, wire.SubscribeRequest{
		Channel: wire.ChannelForJob("job-7"),
	})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}

	for _, name := range []string{wire.CodecNameJSON, wire.CodecNameMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec := wire.GetCodec(name)
			data, err := codec.Encode(frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.ID != frame.ID || got.Type != frame.Type || got.Method != frame.Method {
				t.Errorf("decoded frame = %+v, want %+v", got, frame)
			}
		})
	}
}

func TestNewFrameID_Prefix(t *testing.T) {
	id := wire.NewFrameID()
	if !strings.HasPrefix(id, "frm_") {
		t.Errorf("NewFrameID() = %q, want frm_ prefix", id)
	}
	if id == wire.NewFrameID() {
		t.Error("NewFrameID() returned duplicate ids")
	}
}
