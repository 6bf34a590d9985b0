package trace

import "testing"

func TestNoop_EventsChannelIsClosed(t *testing.T) {
	tr := Noop()
	defer tr.Close()

	_, ok := <-tr.Events()
	if ok {
		t.Fatal("expected Noop's Events channel to be closed with no events")
	}
}

func TestDirection_String(t *testing.T) {
	if got := Tx.String(); got != "tx" {
		t.Fatalf("Tx.String() = %q, want %q", got, "tx")
	}
	if got := Rx.String(); got != "rx" {
		t.Fatalf("Rx.String() = %q, want %q", got, "rx")
	}
}

func TestNoop_CloseIsIdempotentAndNil(t *testing.T) {
	tr := Noop()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}
