package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the bus the config asks for: "channel" keeps the pipeline
// in-process, "nats" spans nodes.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("bus: unknown type %q", cfg.Type)
	}
}
