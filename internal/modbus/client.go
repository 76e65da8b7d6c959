package modbus

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// maxPDUSize begrenzt die Response: 253 Byte PDU laut Spezifikation.
const maxPDUSize = 253

// Client ist eine Modbus TCP Session zu genau einem Gerät.
// Nicht für parallele Requests gedacht, der Mutex serialisiert.
type Client struct {
	address       string
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	connected     bool
}

func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		address: address,
		timeout: timeout,
	}
}

// Connect stellt die TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return Classify(fmt.Errorf("connect %s: %w", c.address, err))
	}

	c.conn = conn
	c.connected = true

	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// Connected meldet ob eine TCP Session offen ist.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// roundTrip sendet einen Request und liest die komplette Response.
// TCP darf Frames fragmentieren, deshalb Header und Body getrennt
// mit io.ReadFull lesen statt einem einzelnen Read.
func (c *Client) roundTrip(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, types.NewKindError(types.ErrKindTransient, fmt.Errorf("not connected"))
	}

	// Unique Transaction ID
	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.dropConn()
		return nil, Classify(fmt.Errorf("write failed: %w", err))
	}

	c.conn.SetReadDeadline(deadline)

	header := make([]byte, 7)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.dropConn()
		return nil, Classify(fmt.Errorf("read header failed: %w", err))
	}

	response, err := DecodeHeader(header)
	if err != nil {
		c.dropConn()
		return nil, types.NewKindError(types.ErrKindFatal, fmt.Errorf("decode failed: %w", err))
	}
	if response.Length-1 > maxPDUSize {
		c.dropConn()
		return nil, types.NewKindError(types.ErrKindFatal, fmt.Errorf("oversized response: %d bytes", response.Length))
	}

	// Length zählt UnitID mit, die steckt schon im Header
	body := make([]byte, response.Length-1)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.dropConn()
		return nil, Classify(fmt.Errorf("read body failed: %w", err))
	}

	response.FunctionCode = body[0]
	if len(body) > 1 {
		response.Data = body[1:]
	}

	// Response gegen Request prüfen
	if response.TransactionID != request.TransactionID {
		c.dropConn()
		return nil, types.NewKindError(types.ErrKindFatal, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID))
	}
	if response.UnitID != request.UnitID {
		return nil, types.NewKindError(types.ErrKindFatal, fmt.Errorf("unit ID mismatch: expected %d, got %d",
			request.UnitID, response.UnitID))
	}
	if err := response.Exception(); err != nil {
		return nil, Classify(err)
	}
	if response.FunctionCode != request.FunctionCode {
		return nil, types.NewKindError(types.ErrKindFatal, fmt.Errorf("function code mismatch: expected 0x%02X, got 0x%02X",
			request.FunctionCode, response.FunctionCode))
	}

	return response, nil
}

// dropConn verwirft die Session nach einem I/O Fehler. Der Stream ist
// dann nicht mehr synchron zum Request/Response-Zyklus.
func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.connected = false
}

// ReadHoldingRegisters liest Holding Registers (Function Code 0x03)
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, ReadHoldingRegistersRequest(0, unitID, startAddr, quantity), quantity)
}

// ReadInputRegisters liest Input Registers (Function Code 0x04)
func (c *Client) ReadInputRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, ReadInputRegistersRequest(0, unitID, startAddr, quantity), quantity)
}

func (c *Client) readRegisters(ctx context.Context, request *Frame, quantity uint16) ([]uint16, error) {
	response, err := c.roundTrip(ctx, request)
	if err != nil {
		return nil, err
	}

	registers, err := response.ParseRegisterResponse()
	if err != nil {
		return nil, types.NewKindError(types.ErrKindFatal, err)
	}
	if len(registers) != int(quantity) {
		return nil, types.NewKindError(types.ErrKindFatal, fmt.Errorf("register count mismatch: expected %d, got %d",
			quantity, len(registers)))
	}

	return registers, nil
}
