package device

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload, err := EncodeCommand(Command{Type: TypeSendDirect, Receiver: "node-b", Content: "hello"})
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	read, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(read, payload) {
		t.Fatalf("frame payload mismatch: %q vs %q", read, payload)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, MaxFrameSize+1)
	if err := WriteFrame(&buf, payload); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadFrame(buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeEventRequiresType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"content":"no type"}`)); !errors.Is(err, ErrInvalidFrameType) {
		t.Fatalf("expected ErrInvalidFrameType, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}

func TestCompanionErrorClassification(t *testing.T) {
	noRoute := &CompanionError{Code: CodeNoRoute}
	if !IsNoRoute(noRoute) {
		t.Fatalf("expected no-route classification")
	}
	if IsNoRoute(&CompanionError{Code: CodeInternal}) {
		t.Fatalf("internal error misclassified as no-route")
	}

	if !IsNotReady(ErrLinkDown) {
		t.Fatalf("expected link-down to classify as not ready")
	}
	if !IsNotReady(&CompanionError{Code: CodeNotReady}) {
		t.Fatalf("expected not-ready companion error to classify as not ready")
	}
	if IsNotReady(noRoute) {
		t.Fatalf("no-route misclassified as not ready")
	}
}
