package modbus

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// exceptionKind ordnet Exception Codes der Retry-Entscheidung zu.
// Illegal function/address/value bedeutet: die Konfiguration passt
// nicht zum Gerät, ein Retry ändert daran nichts.
func exceptionKind(code uint8) types.ErrorKind {
	switch code {
	case ExceptionIllegalFunction, ExceptionIllegalDataAddress, ExceptionIllegalDataValue:
		return types.ErrKindFatal
	default:
		return types.ErrKindTransient
	}
}

// Classify wraps an error from the client into its retry
// classification. Already classified errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var ke *types.KindError
	if errors.As(err, &ke) {
		return err
	}

	var exc *ExceptionError
	if errors.As(err, &exc) {
		return types.NewKindError(exceptionKind(exc.Code), err)
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return types.NewKindError(types.ErrKindTransient, err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return types.NewKindError(types.ErrKindTransient, err)
	}

	// Unbekannte Fehler werden als transient behandelt
	return types.NewKindError(types.ErrKindTransient, err)
}
