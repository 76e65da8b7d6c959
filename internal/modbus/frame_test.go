package modbus

import (
	"errors"
	"testing"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := ReadHoldingRegistersRequest(42, 3, 100, 8)
	raw := req.Encode()

	decoded, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.TransactionID != 42 {
		t.Fatalf("transaction id: want 42, got %d", decoded.TransactionID)
	}
	if decoded.UnitID != 3 {
		t.Fatalf("unit id: want 3, got %d", decoded.UnitID)
	}
	if decoded.FunctionCode != FuncCodeReadHoldingRegisters {
		t.Fatalf("function code: want 0x03, got 0x%02X", decoded.FunctionCode)
	}
	if len(decoded.Data) != 4 {
		t.Fatalf("data length: want 4, got %d", len(decoded.Data))
	}
}

func TestDecodeRejectsBadProtocolID(t *testing.T) {
	req := ReadInputRegistersRequest(1, 1, 0, 2)
	raw := req.Encode()
	raw[2] = 0xDE
	raw[3] = 0xAD

	if _, err := DecodeFrame(raw); err == nil {
		t.Fatal("expected error for non-zero protocol id")
	}
}

func TestParseRegisterResponse(t *testing.T) {
	frame := &Frame{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         []byte{4, 0x12, 0x34, 0xAB, 0xCD},
	}

	registers, err := frame.ParseRegisterResponse()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(registers) != 2 {
		t.Fatalf("register count: want 2, got %d", len(registers))
	}
	if registers[0] != 0x1234 || registers[1] != 0xABCD {
		t.Fatalf("registers: got %04X %04X", registers[0], registers[1])
	}
}

func TestParseRegisterResponseTruncated(t *testing.T) {
	frame := &Frame{Data: []byte{4, 0x12, 0x34}}
	if _, err := frame.ParseRegisterResponse(); err == nil {
		t.Fatal("expected error for truncated response")
	}
}

func TestExceptionDecoding(t *testing.T) {
	frame := &Frame{
		FunctionCode: FuncCodeReadHoldingRegisters | 0x80,
		Data:         []byte{ExceptionIllegalDataAddress},
	}

	err := frame.Exception()
	if err == nil {
		t.Fatal("expected exception error")
	}
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("expected ExceptionError, got %T", err)
	}
	if exc.Code != ExceptionIllegalDataAddress {
		t.Fatalf("exception code: want 0x02, got 0x%02X", exc.Code)
	}
}

func TestClassifyExceptionCodes(t *testing.T) {
	fatal := Classify(&ExceptionError{Code: ExceptionIllegalDataAddress})
	if types.KindOf(fatal) != types.ErrKindFatal {
		t.Fatalf("illegal data address should be fatal, got %v", types.KindOf(fatal))
	}

	busy := Classify(&ExceptionError{Code: ExceptionSlaveDeviceBusy})
	if types.KindOf(busy) != types.ErrKindTransient {
		t.Fatalf("device busy should be transient, got %v", types.KindOf(busy))
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyNetworkErrors(t *testing.T) {
	classified := Classify(timeoutError{})
	if types.KindOf(classified) != types.ErrKindTransient {
		t.Fatalf("timeout should be transient, got %v", types.KindOf(classified))
	}

	// bereits klassifizierte Fehler bleiben unverändert
	fatal := types.NewKindError(types.ErrKindFatal, errors.New("unit id mismatch"))
	if got := Classify(fatal); types.KindOf(got) != types.ErrKindFatal {
		t.Fatalf("classification must pass through, got %v", types.KindOf(got))
	}
}

func TestPlanBlock(t *testing.T) {
	channels := []types.ChannelConfig{
		{Channel: 0, StartRegister: 0, RegisterCount: 2},
		{Channel: 1, StartRegister: 2, RegisterCount: 2},
		{Channel: 3, StartRegister: 6, RegisterCount: 2},
	}

	plan, err := PlanBlock(channels)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if plan.Start != 0 || plan.Count != 8 {
		t.Fatalf("plan: want start 0 count 8, got start %d count %d", plan.Start, plan.Count)
	}

	block := []uint16{10, 0, 20, 0, 0, 0, 30, 1}
	regs, err := plan.Slice(block, channels[2])
	if err != nil {
		t.Fatalf("slice failed: %v", err)
	}
	if regs[0] != 30 || regs[1] != 1 {
		t.Fatalf("slice: got %v", regs)
	}
}

func TestPlanBlockRejectsOversizedSpan(t *testing.T) {
	channels := []types.ChannelConfig{
		{Channel: 0, StartRegister: 0, RegisterCount: 2},
		{Channel: 1, StartRegister: 200, RegisterCount: 2},
	}
	if _, err := PlanBlock(channels); err == nil {
		t.Fatal("expected error for span beyond protocol limit")
	}
}
