package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeDecodeEvent(t *testing.T) {
	cc := uint8(0x00)
	event := Event{
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Direction: DirectionOut,
		Layer:     LayerControl,
		Category:  CategoryControl,
		Control: &ControlEvent{
			Command:    0x01,
			InstanceID: 5,
			Completion: &cc,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !got.Timestamp.Equal(event.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, event.Timestamp)
	}
	if got.Direction != DirectionOut || got.Layer != LayerControl || got.Category != CategoryControl {
		t.Errorf("classification = %v/%v/%v", got.Direction, got.Layer, got.Category)
	}
	if got.Control == nil {
		t.Fatal("control payload missing")
	}
	if got.Control.Command != 0x01 || got.Control.InstanceID != 5 {
		t.Errorf("control = %+v", got.Control)
	}
	if got.Control.Completion == nil || *got.Control.Completion != 0x00 {
		t.Errorf("completion = %v", got.Control.Completion)
	}
	if got.Packet != nil || got.Message != nil || got.StateChange != nil || got.Error != nil {
		t.Error("unexpected payloads set")
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.mctplog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	events := []Event{
		{
			Timestamp: time.Now(),
			Direction: DirectionIn,
			Layer:     LayerPacket,
			Category:  CategoryMessage,
			Packet:    &PacketEvent{Size: 9, Src: 0x10, Dst: 0x09, SOM: true, EOM: true},
		},
		{
			Timestamp: time.Now(),
			Direction: DirectionOut,
			Layer:     LayerControl,
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntityEndpoint,
				NewState: "assigned",
				EID:      9,
			},
		},
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	reader, err := NewReader(path, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Packet == nil || got[0].Packet.Src != 0x10 {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].StateChange == nil || got[1].StateChange.EID != 9 {
		t.Errorf("second event = %+v", got[1])
	}
}

func TestReaderFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.mctplog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for i := 0; i < 4; i++ {
		layer := LayerPacket
		if i%2 == 1 {
			layer = LayerControl
		}
		logger.Log(Event{
			Timestamp: time.Now(),
			Direction: DirectionIn,
			Layer:     layer,
			Category:  CategoryMessage,
		})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	layer := LayerControl
	reader, err := NewReader(path, &Filter{Layer: &layer})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if event.Layer != LayerControl {
			t.Errorf("filter leaked layer %v", event.Layer)
		}
		count++
	}
	if count != 2 {
		t.Errorf("got %d filtered events, want 2", count)
	}
}

type countingLogger struct{ n int }

func (c *countingLogger) Log(Event) { c.n++ }

func TestMultiLoggerFanOut(t *testing.T) {
	a := &countingLogger{}
	b := &countingLogger{}
	m := NewMultiLogger(a, b)

	m.Log(Event{Timestamp: time.Now()})
	m.Log(Event{Timestamp: time.Now()})

	if a.n != 2 || b.n != 2 {
		t.Errorf("fan out counts = %d, %d, want 2, 2", a.n, b.n)
	}
}
