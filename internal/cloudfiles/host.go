// Package cloudfiles bridges a host-managed virtual filesystem placeholder
// facility to an application-defined content source. The host owns the sync
// root, the on-disk placeholders and the hydration protocol; this package
// supplies the policy layer: sync root registration, translation of host
// callbacks into application work, and a single background worker that keeps
// slow fetches off the host callback threads.
package cloudfiles

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ConnectionHandle identifies an active sync root connection. The zero value
// is the invalid sentinel.
type ConnectionHandle uint64

const InvalidConnection ConnectionHandle = 0

// TransferKey correlates a host fetch request with the transfer that answers
// it. The zero value is the invalid sentinel.
type TransferKey uint64

const InvalidTransferKey TransferKey = 0

// Status is a host-level completion code carried by HostError and by
// transfer/ack operations.
type Status uint32

const (
	StatusOK Status = iota
	StatusNotFound
	StatusAlreadyExists
	StatusAccessDenied
	StatusInvalidArgument
	StatusNotRegistered
	StatusTimeout
	StatusIOError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusAccessDenied:
		return "access_denied"
	case StatusInvalidArgument:
		return "invalid_argument"
	case StatusNotRegistered:
		return "not_registered"
	case StatusTimeout:
		return "timeout"
	case StatusIOError:
		return "io_error"
	default:
		return fmt.Sprintf("status_%d", uint32(s))
	}
}

// HostError is returned by host service implementations so callers can
// recover the underlying status code for diagnostics.
type HostError struct {
	Op     string
	Status Status
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %s", e.Op, e.Status)
}

// InSyncState is the host-tracked in-sync marker for a placeholder.
type InSyncState int

const (
	InSyncStateNotInSync InSyncState = iota
	InSyncStateInSync
)

func (s InSyncState) String() string {
	if s == InSyncStateInSync {
		return "in_sync"
	}
	return "not_in_sync"
}

// PinState is the host-tracked pin marker for a placeholder.
type PinState int

const (
	PinStateUnspecified PinState = iota
	PinStatePinned
	PinStateUnpinned
	PinStateExcluded
)

func (s PinState) String() string {
	switch s {
	case PinStatePinned:
		return "pinned"
	case PinStateUnpinned:
		return "unpinned"
	case PinStateExcluded:
		return "excluded"
	default:
		return "unspecified"
	}
}

// HydrationPolicy and PopulationPolicy are the registration policy knobs the
// host honors for this sync root.
type HydrationPolicy int

const (
	HydrationFull HydrationPolicy = iota
	HydrationProgressive
)

type PopulationPolicy int

const (
	PopulationAlwaysFull PopulationPolicy = iota
	PopulationPartial
)

// RegistrationDescriptor describes the provider to the host when a sync root
// is registered.
type RegistrationDescriptor struct {
	ProviderID      string
	ProviderName    string
	ProviderVersion string
	Hydration       HydrationPolicy
	Population      PopulationPolicy
	InSyncTrackAll  bool
	AllowHardLinks  bool
}

// Metadata carries the basic file metadata recorded on a placeholder.
type Metadata struct {
	CreatedAt  time.Time
	ModifiedAt time.Time
	AccessedAt time.Time
	Mode       os.FileMode
}

// PlaceholderDescriptor describes one placeholder to materialize under the
// sync root.
type PlaceholderDescriptor struct {
	RelativePath string
	Identity     []byte
	Size         int64
	Metadata     Metadata
}

// EventKind names the host callback that produced an Event.
type EventKind string

const (
	EventFetchData           EventKind = "fetch_data"
	EventValidateData        EventKind = "validate_data"
	EventCancelFetchData     EventKind = "cancel_fetch_data"
	EventFileOpenCompletion  EventKind = "notify_file_open_completion"
	EventFileCloseCompletion EventKind = "notify_file_close_completion"
	EventDehydrate           EventKind = "notify_dehydrate"
	EventDehydrateCompletion EventKind = "notify_dehydrate_completion"
	EventDelete              EventKind = "notify_delete"
	EventDeleteCompletion    EventKind = "notify_delete_completion"
	EventRename              EventKind = "notify_rename"
	EventRenameCompletion    EventKind = "notify_rename_completion"
)

// Event is the record handed to a registered callback. Path is the
// normalized path relative to the sync root. TransferKey, Offset and Length
// are populated for fetch/validate/cancel events; TargetPath for renames;
// ProcessID when the connection requested process info.
type Event struct {
	Kind        EventKind
	Path        string
	TargetPath  string
	TransferKey TransferKey
	Offset      int64
	Length      int64
	ProcessID   uint32
}

// CallbackTable maps event kinds to their bound handlers. Host callback
// threads may invoke handlers for different paths concurrently; handlers
// must return quickly.
type CallbackTable map[EventKind]func(Event)

// ConnectFlags requests extra detail on delivered callbacks.
type ConnectFlags uint32

const (
	ConnectFlagRequireFullPath ConnectFlags = 1 << iota
	ConnectFlagRequireProcessInfo
)

// HostService is the contract the host virtual-filesystem facility exposes
// to this provider. Implementations must be safe for concurrent use.
type HostService interface {
	RegisterSyncRoot(path string, reg RegistrationDescriptor) error
	ConnectSyncRoot(path string, table CallbackTable, flags ConnectFlags) (ConnectionHandle, error)
	DisconnectSyncRoot(handle ConnectionHandle) error
	UnregisterSyncRoot(path string) error

	CreatePlaceholders(root string, descriptors []PlaceholderDescriptor) error

	// GetTransferKey returns a transfer key bound to an opened placeholder
	// so a transfer can be issued outside a fetch callback.
	GetTransferKey(file *os.File) (TransferKey, error)
	TransferData(handle ConnectionHandle, key TransferKey, data []byte, offset int64, status Status) error
	AckData(handle ConnectionHandle, key TransferKey, offset, length int64, status Status) error

	SetInSyncState(file *os.File, state InSyncState) error
	SetPinState(file *os.File, state PinState) error
}

// FetchSource supplies file content for a placeholder being hydrated. It is
// invoked on the provider worker only, never on a host callback thread. The
// context is cancelled if the host cancels the fetch.
type FetchSource interface {
	Fetch(ctx context.Context, relativePath string) ([]byte, error)
}

// FetchSourceFunc adapts a function to FetchSource.
type FetchSourceFunc func(ctx context.Context, relativePath string) ([]byte, error)

func (f FetchSourceFunc) Fetch(ctx context.Context, relativePath string) ([]byte, error) {
	return f(ctx, relativePath)
}

// NotifySink receives normalized (path, event) notifications. Event names:
// file_opened, file_closed, file_deleted, file_renamed, file_modified.
type NotifySink interface {
	Notify(relativePath, event string)
}

// NotifySinkFunc adapts a function to NotifySink.
type NotifySinkFunc func(relativePath, event string)

func (f NotifySinkFunc) Notify(relativePath, event string) {
	f(relativePath, event)
}
