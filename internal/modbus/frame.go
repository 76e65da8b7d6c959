package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type Frame struct {
	TransactionID uint16 // 2 Bytes - Request/Response Korrelation
	ProtocolID    uint16 // 2 Bytes - Immer 0x0000 für Modbus
	Length        uint16 // 2 Bytes - Anzahl folgender Bytes
	UnitID        uint8  // 1 Byte - Slave Address
	FunctionCode  uint8  // 1 Byte - Modbus Function
	Data          []byte // Variable Länge
}

// Modbus Function Codes
const (
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	// Bit 7 gesetzt markiert eine Exception Response
	exceptionFlag = 0x80
)

// Modbus Exception Codes
const (
	ExceptionIllegalFunction    = 0x01
	ExceptionIllegalDataAddress = 0x02
	ExceptionIllegalDataValue   = 0x03
	ExceptionSlaveDeviceFailure = 0x04
	ExceptionAcknowledge        = 0x05
	ExceptionSlaveDeviceBusy    = 0x06
	ExceptionMemoryParityError  = 0x08
	ExceptionGatewayPathUnavail = 0x0A
	ExceptionGatewayTargetFail  = 0x0B
)

var exceptionNames = map[uint8]string{
	ExceptionIllegalFunction:    "illegal function",
	ExceptionIllegalDataAddress: "illegal data address",
	ExceptionIllegalDataValue:   "illegal data value",
	ExceptionSlaveDeviceFailure: "slave device failure",
	ExceptionAcknowledge:        "acknowledge",
	ExceptionSlaveDeviceBusy:    "slave device busy",
	ExceptionMemoryParityError:  "memory parity error",
	ExceptionGatewayPathUnavail: "gateway path unavailable",
	ExceptionGatewayTargetFail:  "gateway target device failed to respond",
}

// ExceptionError ist eine vom Gerät gemeldete Modbus Exception.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	name, ok := exceptionNames[e.Code]
	if !ok {
		name = "unknown"
	}
	return fmt.Sprintf("modbus exception 0x%02X (%s) for function 0x%02X", e.Code, name, e.FunctionCode&^uint8(exceptionFlag))
}

// Encode erstellt das komplette TCP Frame
func (f *Frame) Encode() []byte {
	// PDU Length = UnitID (1) + Function Code (1) + Data
	f.Length = uint16(len(f.Data) + 2)

	frame := make([]byte, 7+len(f.Data)+1) // MBAP(7) + FuncCode(1) + Data

	// MBAP Header
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	// PDU
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeHeader parst den 7-Byte MBAP Header.
func DecodeHeader(data []byte) (*Frame, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("header too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}
	// Length zählt UnitID + FunctionCode + Data
	if frame.Length < 2 {
		return nil, fmt.Errorf("invalid length field: %d", frame.Length)
	}

	return frame, nil
}

// DecodeFrame parst ein komplettes empfangenes Frame
func DecodeFrame(data []byte) (*Frame, error) {
	frame, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame.FunctionCode = data[7]
	if len(data) > 8 {
		frame.Data = data[8:]
	}

	return frame, nil
}

// Exception prüft auf Exception Response und liefert den passenden Fehler.
func (f *Frame) Exception() error {
	if f.FunctionCode&exceptionFlag == 0 {
		return nil
	}
	code := uint8(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{FunctionCode: f.FunctionCode, Code: code}
}

// ReadHoldingRegistersRequest erstellt Request für Function Code 0x03
func ReadHoldingRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *Frame {
	return readRequest(FuncCodeReadHoldingRegisters, transactionID, unitID, startAddr, quantity)
}

// ReadInputRegistersRequest erstellt Request für Function Code 0x04
func ReadInputRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *Frame {
	return readRequest(FuncCodeReadInputRegisters, transactionID, unitID, startAddr, quantity)
}

func readRequest(funcCode uint8, transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{
		TransactionID: transactionID,
		ProtocolID:    0x0000,
		UnitID:        unitID,
		FunctionCode:  funcCode,
		Data:          data,
	}
}

// ParseRegisterResponse parst Holding/Input Register Response
func (f *Frame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := f.Data[0]
	if byteCount%2 != 0 {
		return nil, fmt.Errorf("odd byte count: %d", byteCount)
	}
	if len(f.Data) < int(byteCount)+1 {
		return nil, fmt.Errorf("incomplete response data: want %d bytes, have %d", byteCount, len(f.Data)-1)
	}

	registerCount := byteCount / 2
	registers := make([]uint16, registerCount)

	for i := 0; i < int(registerCount); i++ {
		offset := 1 + (i * 2)
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}
