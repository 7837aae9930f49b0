package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	logEncMode cbor.EncMode
	logDecMode cbor.DecMode
)

func init() {
	encOpts := cbor.EncOptions{
		Time: cbor.TimeRFC3339Nano,
		Sort: cbor.SortCanonical,
	}
	em, err := encOpts.EncMode()
	if err != nil {
		panic("log: invalid cbor encode options: " + err.Error())
	}
	logEncMode = em

	decOpts := cbor.DecOptions{}
	dm, err := decOpts.DecMode()
	if err != nil {
		panic("log: invalid cbor decode options: " + err.Error())
	}
	logDecMode = dm
}

// EncodeEvent serializes an event to its CBOR wire form.
func EncodeEvent(event Event) ([]byte, error) {
	return logEncMode.Marshal(event)
}

// DecodeEvent deserializes a single CBOR-encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := logDecMode.Unmarshal(data, &event)
	return event, err
}

// NewEncoder returns a streaming CBOR encoder writing events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return logEncMode.NewEncoder(w)
}

// NewDecoder returns a streaming CBOR decoder reading events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return logDecMode.NewDecoder(r)
}
