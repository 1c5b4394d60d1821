package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/config"
)

// ErrNotConfigured is returned by Start and Discover while the API key or
// location is unset.
var ErrNotConfigured = errors.New("controller not configured")

// Controller owns the device registry and the configuration check. It fans
// poll triggers out to every registered device except itself.
type Controller struct {
	params  config.Source
	host    Host
	factory Factory
	logger  *zap.Logger

	mu         sync.RWMutex
	devices    map[string]Device
	configured bool
}

// NewController creates a Controller. factory builds the weather device on Discover.
func NewController(params config.Source, host Host, factory Factory, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		params:  params,
		host:    host,
		factory: factory,
		logger:  logger.With(zap.String("address", ControllerAddress)),
		devices: make(map[string]Device),
	}
}

// Address returns ControllerAddress.
func (c *Controller) Address() string {
	return ControllerAddress
}

// Configured reports the result of the last CheckConfig.
func (c *Controller) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configured
}

// Start checks the configuration and, when complete, discovers devices.
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("starting controller")
	if !c.CheckConfig() {
		c.logger.Error("configuration not complete")
		c.host.SetAvailable(ControllerAddress, false)
		return ErrNotConfigured
	}
	if err := c.Discover(ctx); err != nil {
		c.host.SetAvailable(ControllerAddress, false)
		return err
	}
	c.host.SetAvailable(ControllerAddress, true)
	return nil
}

// CheckConfig clears all notices, then raises one for each unset parameter.
// The controller status mirrors the result.
func (c *Controller) CheckConfig() bool {
	c.host.RemoveAllNotices()

	configured := true
	for _, p := range config.Params {
		if config.IsUnset(p.Key, c.params.Param(p.Key)) {
			c.host.AddNotice(p.Key, p.Notice)
			configured = false
		}
	}

	c.mu.Lock()
	c.configured = configured
	c.mu.Unlock()
	c.host.SetAvailable(ControllerAddress, configured)
	c.logger.Info("configuration checked", zap.Bool("configured", configured))
	return configured
}

// Discover creates, registers and starts the weather device if it is not
// registered yet. A failing first fetch is logged, not returned.
func (c *Controller) Discover(ctx context.Context) error {
	if !c.Configured() {
		c.logger.Error("cannot discover, not configured")
		c.host.SetAvailable(ControllerAddress, false)
		return ErrNotConfigured
	}
	if _, ok := c.Device(WeatherAddress); ok {
		return nil
	}

	c.logger.Info("creating weather node")
	d, err := c.factory(WeatherAddress, c.params.Param(config.ParamAPIKey), c.params.Param(config.ParamLocation))
	if err != nil {
		return fmt.Errorf("create weather node: %w", err)
	}
	if err := c.Register(d); err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		c.logger.Error("weather node start failed", zap.Error(err))
	}
	c.host.SetAvailable(ControllerAddress, true)
	return nil
}

// Register adds d to the registry.
func (c *Controller) Register(d Device) error {
	addr := d.Address()
	if addr == "" || addr == ControllerAddress {
		return fmt.Errorf("invalid device address %q", addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[addr]; ok {
		return fmt.Errorf("device %q already registered", addr)
	}
	c.devices[addr] = d
	return nil
}

// Device returns the device registered at address.
func (c *Controller) Device(address string) (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[address]
	return d, ok
}

// Addresses returns registered device addresses in sorted order.
func (c *Controller) Addresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.devices))
	for addr := range c.devices {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// ShortPoll triggers a short poll on every device.
func (c *Controller) ShortPoll(ctx context.Context) error {
	return c.fanOut(ctx, "shortPoll", Device.ShortPoll)
}

// LongPoll triggers a long poll on every device.
func (c *Controller) LongPoll(ctx context.Context) error {
	return c.fanOut(ctx, "longPoll", Device.LongPoll)
}

// Query re-reports the controller status and every device's values.
func (c *Controller) Query(ctx context.Context) error {
	c.host.SetAvailable(ControllerAddress, c.Configured())
	return c.fanOut(ctx, "query", Device.Query)
}

// Stop reports the controller unavailable and stops every device.
func (c *Controller) Stop(ctx context.Context) error {
	c.logger.Info("stopping controller")
	c.host.SetAvailable(ControllerAddress, false)
	return c.fanOut(ctx, "stop", Device.Stop)
}

// Dispatch runs cmd against the node at address. Devices accept QUERY only.
func (c *Controller) Dispatch(ctx context.Context, address string, cmd Command) error {
	if address == ControllerAddress {
		switch cmd {
		case CommandQuery:
			return c.Query(ctx)
		case CommandDiscover:
			return c.Discover(ctx)
		case CommandUpdateProfile:
			return c.host.UpdateProfile()
		case CommandRemoveNoticesAll:
			c.host.RemoveAllNotices()
			return nil
		default:
			return fmt.Errorf("%w: %v", ErrUnknownCommand, cmd)
		}
	}

	d, ok := c.Device(address)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, address)
	}
	switch cmd {
	case CommandQuery:
		return d.Query(ctx)
	default:
		return fmt.Errorf("%w: %v not supported by %q", ErrUnknownCommand, cmd, address)
	}
}

// fanOut calls fn on a snapshot of the registry so long cycles do not hold
// the lock. Every device is visited even when an earlier one fails.
func (c *Controller) fanOut(ctx context.Context, op string, fn func(Device, context.Context) error) error {
	c.mu.RLock()
	targets := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		targets = append(targets, d)
	}
	c.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Address() < targets[j].Address() })

	var errs []error
	for _, d := range targets {
		if d.Address() == c.Address() {
			continue
		}
		if err := fn(d, ctx); err != nil {
			c.logger.Error("device operation failed",
				zap.String("op", op),
				zap.String("device", d.Address()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s %s: %w", op, d.Address(), err))
		}
	}
	return errors.Join(errs...)
}
