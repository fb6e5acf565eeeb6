// Package discovery wraps BLE advertise/scan so the FiRa Connector (see
// internal/connector) can find and be found by ranging peers without
// depending on a concrete BLE stack.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// TransportType names a discovery transport. BLE is the only transport
// implemented; the factory shape exists so a future transport can be
// added without touching callers.
type TransportType int

const (
	TransportUnknown TransportType = iota
	TransportBLE
)

func (t TransportType) String() string {
	switch t {
	case TransportBLE:
		return "ble"
	default:
		return "unknown"
	}
}

// ErrUnsupportedTransport is returned by NewProvider for any
// TransportType other than TransportBLE.
var ErrUnsupportedTransport = errors.New("discovery: unsupported transport")

// Endpoint is a discovered transport endpoint: enough for component D
// to dial or accept a BLE-GATT connection.
type Endpoint struct {
	// DeviceID identifies the remote peer (BLE MAC or platform-assigned
	// identifier, opaque to this package).
	DeviceID string
	// Name is the advertised local name, if any.
	Name string
	// RSSI is the received signal strength of the advertisement that
	// produced this endpoint, in dBm.
	RSSI int
}

// Provider advertises and/or scans for FiRa UWB indication payloads and
// yields discovered endpoints. Start and Stop are idempotent: a second
// Start while already running, or a second Stop while already stopped,
// returns false instead of erroring.
type Provider interface {
	// Start begins advertising/scanning. Returns true if this call
	// transitioned the provider from stopped to running.
	Start() (bool, error)
	// Stop ends advertising/scanning. Returns true if this call
	// transitioned the provider from running to stopped.
	Stop() (bool, error)
	// Endpoints returns a channel of discovered endpoints, open for the
	// lifetime of the provider.
	Endpoints() <-chan Endpoint
}

// Config configures a discovery Provider.
type Config struct {
	Transport TransportType
	// ServiceUUID is the GATT service UUID advertised/scanned for FiRa
	// UWB indication.
	ServiceUUID string
	// LocalName is advertised when acting as a peripheral.
	LocalName string
}

// NewProvider dispatches to a concrete Provider by transport type. BLE
// is the only transport implemented today.
func NewProvider(cfg Config, scanner BLEScanner, logger *slog.Logger) (Provider, error) {
	switch cfg.Transport {
	case TransportBLE:
		return newBLEProvider(cfg, scanner, logger), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTransport, cfg.Transport)
	}
}

// bleProvider implements Provider over a BLEScanner collaborator.
type bleProvider struct {
	cfg     Config
	scanner BLEScanner
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopFn  func()
	out     chan Endpoint
}

func newBLEProvider(cfg Config, scanner BLEScanner, logger *slog.Logger) *bleProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &bleProvider{
		cfg:     cfg,
		scanner: scanner,
		logger:  logger.With(slog.String("component", "discovery"), slog.String("transport", "ble")),
		out:     make(chan Endpoint, 16),
	}
}

func (p *bleProvider) Start() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false, nil
	}

	advertisements, stop, err := p.scanner.ScanForService(p.cfg.ServiceUUID)
	if err != nil {
		return false, fmt.Errorf("discovery: start scan: %w", err)
	}
	p.stopFn = stop
	p.running = true

	go p.pump(advertisements)
	p.logger.Info("discovery started", slog.String("service_uuid", p.cfg.ServiceUUID))
	return true, nil
}

func (p *bleProvider) pump(advertisements <-chan Advertisement) {
	for adv := range advertisements {
		p.out <- Endpoint{DeviceID: adv.DeviceID, Name: adv.Name, RSSI: adv.RSSI}
	}
}

func (p *bleProvider) Stop() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false, nil
	}
	p.stopFn()
	p.running = false
	p.logger.Info("discovery stopped")
	return true, nil
}

func (p *bleProvider) Endpoints() <-chan Endpoint {
	return p.out
}

// Advertisement is one BLE advertisement observed by a BLEScanner.
type Advertisement struct {
	DeviceID string
	Name     string
	RSSI     int
}

// BLEScanner is the minimal BLE scanning surface discovery needs from
// the underlying radio stack. Actual BLE acquisition is an external
// collaborator behind this interface.
type BLEScanner interface {
	// ScanForService starts scanning for peripherals advertising
	// serviceUUID. Returns a channel of observed advertisements and a
	// stop function that ends the scan and closes the channel.
	ScanForService(serviceUUID string) (<-chan Advertisement, func(), error)
}
