package cloudfiles

import (
	"os"

	"github.com/rs/zerolog"
)

// PlaceholderManager drives placeholder state transitions: create, hydrate,
// in-sync and pin commands. State itself is host-authoritative; this layer
// only issues transition requests.
type PlaceholderManager struct {
	host HostService
	conn *SyncRootConnection
	root string
	log  zerolog.Logger
}

func NewPlaceholderManager(host HostService, conn *SyncRootConnection, root string, log zerolog.Logger) *PlaceholderManager {
	return &PlaceholderManager{host: host, conn: conn, root: root, log: log}
}

// Create derives the placeholder identity from the path and asks the host to
// materialize the placeholder under the sync root.
func (m *PlaceholderManager) Create(relativePath string, meta Metadata, size int64) error {
	rel := NormalizePath(relativePath)
	if rel == "" {
		return &PlaceholderCreateError{Path: relativePath, Err: ErrInvalidInput}
	}
	m.log.Debug().Str("path", rel).Int64("size", size).Msg("creating placeholder")

	desc := PlaceholderDescriptor{
		RelativePath: rel,
		Identity:     Identity(rel),
		Size:         size,
		Metadata:     meta,
	}
	if err := m.host.CreatePlaceholders(m.root, []PlaceholderDescriptor{desc}); err != nil {
		return &PlaceholderCreateError{Path: rel, Err: err}
	}
	return nil
}

// Hydrate opens the placeholder, issues one full-buffer transfer at offset
// zero and reports completion through progress. The file handle is released
// on every path.
func (m *PlaceholderManager) Hydrate(relativePath string, data []byte, progress func(float64)) error {
	rel := NormalizePath(relativePath)
	m.log.Debug().Str("path", rel).Int("bytes", len(data)).Msg("hydrating placeholder")

	file, err := m.open(rel)
	if err != nil {
		return &TransferError{Path: rel, Err: err}
	}
	defer file.Close()

	key, err := m.host.GetTransferKey(file)
	if err != nil {
		return &TransferError{Path: rel, Err: err}
	}
	if err := m.host.TransferData(m.conn.Handle(), key, data, 0, StatusOK); err != nil {
		return &TransferError{Path: rel, Err: err}
	}
	if progress != nil {
		progress(1.0)
	}
	return nil
}

// SetInSync opens the placeholder and issues the in-sync state command.
func (m *PlaceholderManager) SetInSync(relativePath string, state InSyncState) error {
	rel := NormalizePath(relativePath)
	file, err := m.open(rel)
	if err != nil {
		return &StateChangeError{Path: rel, Op: "set in-sync state", Err: err}
	}
	defer file.Close()

	if err := m.host.SetInSyncState(file, state); err != nil {
		return &StateChangeError{Path: rel, Op: "set in-sync state", Err: err}
	}
	return nil
}

// SetPin opens the placeholder and issues the pin state command.
func (m *PlaceholderManager) SetPin(relativePath string, state PinState) error {
	rel := NormalizePath(relativePath)
	file, err := m.open(rel)
	if err != nil {
		return &StateChangeError{Path: rel, Op: "set pin state", Err: err}
	}
	defer file.Close()

	if err := m.host.SetPinState(file, state); err != nil {
		return &StateChangeError{Path: rel, Op: "set pin state", Err: err}
	}
	return nil
}

func (m *PlaceholderManager) open(rel string) (*os.File, error) {
	return os.OpenFile(FullPath(m.root, rel), os.O_RDWR, 0)
}
