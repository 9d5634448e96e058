// Package gate validates PAC fetch requests before any document is served.
// Every denial carries a specific internal reason, but callers surface all
// denials identically so that token or IP enumeration learns nothing.
package gate

import (
	"context"
	"errors"

	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/metrics"
	"github.com/edvin/pacgate/internal/model"
)

// Gate runs the per-request check sequence: rate limit, token, source IP,
// enabled flag. The first failing check denies the request.
type Gate struct {
	devices *core.DeviceService
	limiter *RateLimiter
}

func New(devices *core.DeviceService, limiter *RateLimiter) *Gate {
	return &Gate{devices: devices, limiter: limiter}
}

// Authorize resolves and checks the device for a PAC fetch. On denial the
// returned error is one of the core denial sentinels; failed token lookups
// count toward the source IP's rate-limit budget. When the token resolved but
// a later check failed, the device is returned alongside the error so the
// denial can be attributed in usage records.
func (g *Gate) Authorize(ctx context.Context, token, sourceIP string) (*model.Device, error) {
	if !g.limiter.Allow(sourceIP) {
		metrics.RateLimitedIPs.Inc()
		return nil, core.ErrRateLimited
	}

	device, err := g.devices.ResolveByToken(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) || errors.Is(err, core.ErrTokenRevoked) {
			g.limiter.RecordFailure(sourceIP)
		}
		return nil, err
	}

	if !core.IsIPAllowed(device, sourceIP) {
		return device, core.ErrIPNotAllowed
	}

	if !device.Enabled {
		return device, core.ErrDeviceDisabled
	}

	return device, nil
}
