// Package station resolves the immutable per-process station identity.
package station

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"gamedock/internal/api"
)

// Identity tags every outbound frame. Resolved once at startup, never mutated.
type Identity struct {
	ID   string
	Name string
}

// Lookup is the station directory collaborator; satisfied by *api.Client.
type Lookup interface {
	StationByMAC(ctx context.Context, mac string) (*api.Station, error)
}

// Resolve returns the configured identity when one is pinned in config,
// otherwise resolves it from the first usable hardware address via the
// directory service.
func Resolve(ctx context.Context, configuredID, configuredName string, lookup Lookup, logger *zap.Logger) (Identity, error) {
	if configuredID != "" {
		return Identity{ID: configuredID, Name: configuredName}, nil
	}

	mac, err := hardwareAddress()
	if err != nil {
		return Identity{}, err
	}

	record, err := lookup.StationByMAC(ctx, mac)
	if err != nil {
		return Identity{}, err
	}

	logger.Info("station identity resolved from hardware address",
		zap.String("mac", mac),
		zap.String("station_id", record.ID),
		zap.String("station_name", record.Name))
	return Identity{ID: record.ID, Name: record.Name}, nil
}

// ResolveWithRetry resolves the identity, retrying failed lookups until the
// context is cancelled. A kiosk often boots before its network is up; a down
// directory at startup is retried quietly, never fatal.
func ResolveWithRetry(ctx context.Context, configuredID, configuredName string, lookup Lookup, clock clockwork.Clock, delay time.Duration, logger *zap.Logger) (Identity, error) {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		identity, err := Resolve(ctx, configuredID, configuredName, lookup, logger)
		if err == nil {
			return identity, nil
		}
		logger.Warn("station identity resolution failed, retrying",
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		case <-clock.After(delay):
		}
	}
}

// hardwareAddress picks the MAC of the first non-loopback interface that has
// one. Kiosk hardware has a single NIC; ordering quirks on multi-NIC hosts are
// resolved by pinning the id in config instead. Package var for tests.
var hardwareAddress = func() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", errors.New("station: no usable hardware address found")
}
