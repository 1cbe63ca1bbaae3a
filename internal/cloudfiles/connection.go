package cloudfiles

import (
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// driveProviderID identifies this provider to the host across registrations.
var driveProviderID = uuid.MustParse("12345678-1234-1234-1234-123456789012")

const providerVersion = "1.0.0"

// SyncRootConnection owns the registration and connection lifecycle for one
// sync root. The handle is written under the mutex and the invalid sentinel
// is never passed to the host.
type SyncRootConnection struct {
	host HostService
	log  zerolog.Logger

	mu        sync.Mutex
	handle    ConnectionHandle
	connected bool
}

func NewSyncRootConnection(host HostService, log zerolog.Logger) *SyncRootConnection {
	return &SyncRootConnection{host: host, log: log}
}

// Register ensures the backing directory exists and registers the path as a
// sync root with full hydration, full population, track-all in-sync and no
// hard-link sharing. Safe to call again for the same path: directory
// creation is idempotent.
func (c *SyncRootConnection) Register(path, displayName string) error {
	c.log.Info().Str("path", path).Msg("registering sync root")

	if err := os.MkdirAll(path, 0o755); err != nil {
		return &RegistrationError{Path: path, Err: err}
	}

	reg := RegistrationDescriptor{
		ProviderID:      driveProviderID.String(),
		ProviderName:    displayName,
		ProviderVersion: providerVersion,
		Hydration:       HydrationFull,
		Population:      PopulationAlwaysFull,
		InSyncTrackAll:  true,
		AllowHardLinks:  false,
	}
	if err := c.host.RegisterSyncRoot(path, reg); err != nil {
		return &RegistrationError{Path: path, Err: err}
	}
	return nil
}

// Connect supplies the full callback table to the host, requesting full
// file paths and process info on every callback. On failure the prior
// registration is rolled back best-effort.
func (c *SyncRootConnection) Connect(path string, table CallbackTable) error {
	handle, err := c.host.ConnectSyncRoot(path, table, ConnectFlagRequireFullPath|ConnectFlagRequireProcessInfo)
	if err != nil {
		if uerr := c.host.UnregisterSyncRoot(path); uerr != nil {
			c.log.Warn().Str("path", path).Err(uerr).Msg("rollback unregister failed")
		}
		return &ConnectionError{Path: path, Err: err}
	}

	c.mu.Lock()
	c.handle = handle
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Str("path", path).Msg("sync root connected")
	return nil
}

// Disconnect releases the connection handle. Idempotent: calling it when
// not connected is a no-op and makes no host call.
func (c *SyncRootConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	if err := c.host.DisconnectSyncRoot(c.handle); err != nil {
		c.log.Warn().Err(err).Msg("disconnect sync root failed")
	}
	c.handle = InvalidConnection
	c.connected = false
}

// Unregister disconnects if still connected, then drops the sync root
// registration. Unregistration failure is reported but not escalated.
func (c *SyncRootConnection) Unregister(path string) {
	c.Disconnect()
	if err := c.host.UnregisterSyncRoot(path); err != nil {
		c.log.Warn().Str("path", path).Err(err).Msg("unregister sync root failed")
	}
}

// Handle returns the current connection handle, or the invalid sentinel.
func (c *SyncRootConnection) Handle() ConnectionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Connected reports whether a connection is live.
func (c *SyncRootConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
