package system

import (
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/api/websocket"
	"github.com/KevinKickass/OpenCounterCore/internal/forward"
	"github.com/KevinKickass/OpenCounterCore/internal/storage"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// Dispatcher fans finished readings out to the batch writer, the
// live subscribers and the optional MQTT forwarder. It is the single
// consumer of the readings channel; it exits when the channel is
// closed and drained.
type Dispatcher struct {
	in        <-chan types.Reading
	batcher   *storage.Batcher
	forwarder *forward.Forwarder
	hub       *websocket.Hub
	logger    *zap.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(
	in <-chan types.Reading,
	batcher *storage.Batcher,
	forwarder *forward.Forwarder,
	hub *websocket.Hub,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		in:        in,
		batcher:   batcher,
		forwarder: forwarder,
		hub:       hub,
		logger:    logger,
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.logger.Info("Dispatcher started")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for reading := range d.in {
		d.batcher.Add(reading)

		if d.hub != nil {
			d.hub.Broadcast(websocket.NewReadingMessage(reading))
		}
		if d.forwarder != nil {
			d.forwarder.Forward(reading)
		}
	}

	d.logger.Info("Dispatcher drained")
}

// Wait blocks until the readings channel is closed and fully drained.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
