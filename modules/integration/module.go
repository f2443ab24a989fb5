package integration

import (
	"event-coordinator/core/config"
	"event-coordinator/core/gateway"
	"event-coordinator/modules/integration/service"

	"github.com/redis/go-redis/v9"
)

// Clients bundles the outbound provider clients so the coordination module
// can take them as one dependency.
type Clients struct {
	Messenger service.MessengerInterface
	Calendar  service.CalendarClientInterface
	Venues    service.VenueSearcherInterface
}

// Init builds the provider clients behind the shared gateway.
func Init(cfg *config.Config, gw *gateway.Gateway, rdb redis.UniversalClient) *Clients {
	return &Clients{
		Messenger: service.NewMessenger(cfg.Chat, gw),
		Calendar:  service.NewCalendarClient(cfg.Calendar, gw),
		Venues:    service.NewVenueSearcher(cfg.Venues, gw, rdb),
	}
}
