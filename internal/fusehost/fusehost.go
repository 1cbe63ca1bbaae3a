// Package fusehost is a userspace stand-in for the platform virtual
// filesystem facility the provider talks to. It implements
// cloudfiles.HostService over a FUSE mount: placeholders materialize as
// regular-looking files, a read of a dehydrated placeholder raises a fetch
// callback and blocks on the transfer that answers it, and file activity is
// reported through the connected callback table.
package fusehost

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/mainbooth/boothdrive/internal/cloudfiles"
)

// DefaultFetchTimeout bounds how long a blocked read waits for the provider
// to deliver a transfer before the host gives up and cancels the fetch.
const DefaultFetchTimeout = 30 * time.Second

// Options configures the host.
type Options struct {
	// FetchTimeout bounds the wait for a transfer answering a fetch
	// callback. Zero uses DefaultFetchTimeout.
	FetchTimeout time.Duration

	Logger zerolog.Logger
}

// Host implements cloudfiles.HostService. One Host serves one sync root.
type Host struct {
	log          zerolog.Logger
	fetchTimeout time.Duration

	mu           sync.Mutex
	root         string
	registered   bool
	registration cloudfiles.RegistrationDescriptor
	table        cloudfiles.CallbackTable
	flags        cloudfiles.ConnectFlags
	handle       cloudfiles.ConnectionHandle
	nextHandle   cloudfiles.ConnectionHandle
	nextKey      cloudfiles.TransferKey
	entries      map[string]*entry
	transfers    map[cloudfiles.TransferKey]*transferState
	pendingFetch map[string]cloudfiles.TransferKey
	server       *fuse.Server
}

// entry is the host-side truth for one placeholder.
type entry struct {
	mu       sync.Mutex
	rel      string
	identity []byte
	size     int64
	meta     cloudfiles.Metadata
	hydrated bool
	data     []byte
	inSync   cloudfiles.InSyncState
	pin      cloudfiles.PinState
}

type fetchResult struct {
	data   []byte
	status cloudfiles.Status
}

type transferState struct {
	entry   *entry
	waiters []chan fetchResult
}

func New(opts Options) *Host {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Host{
		log:          opts.Logger,
		fetchTimeout: timeout,
		nextHandle:   1,
		nextKey:      1,
		entries:      map[string]*entry{},
		transfers:    map[cloudfiles.TransferKey]*transferState{},
		pendingFetch: map[string]cloudfiles.TransferKey{},
	}
}

func (h *Host) RegisterSyncRoot(path string, reg cloudfiles.RegistrationDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registered && h.root != path {
		return &cloudfiles.HostError{Op: "register_sync_root", Status: cloudfiles.StatusAlreadyExists}
	}
	if reg.ProviderID == "" || reg.ProviderName == "" {
		return &cloudfiles.HostError{Op: "register_sync_root", Status: cloudfiles.StatusInvalidArgument}
	}
	h.root = path
	h.registration = reg
	h.registered = true
	return nil
}

func (h *Host) ConnectSyncRoot(path string, table cloudfiles.CallbackTable, flags cloudfiles.ConnectFlags) (cloudfiles.ConnectionHandle, error) {
	h.mu.Lock()
	if !h.registered || h.root != path {
		h.mu.Unlock()
		return cloudfiles.InvalidConnection, &cloudfiles.HostError{Op: "connect_sync_root", Status: cloudfiles.StatusNotRegistered}
	}
	if h.handle != cloudfiles.InvalidConnection {
		h.mu.Unlock()
		return cloudfiles.InvalidConnection, &cloudfiles.HostError{Op: "connect_sync_root", Status: cloudfiles.StatusAlreadyExists}
	}
	h.table = table
	h.flags = flags
	h.nextHandle++
	handle := h.nextHandle
	h.mu.Unlock()

	server, err := h.mount(path)
	if err != nil {
		h.mu.Lock()
		h.table = nil
		h.mu.Unlock()
		h.log.Error().Str("path", path).Err(err).Msg("mount failed")
		return cloudfiles.InvalidConnection, &cloudfiles.HostError{Op: "connect_sync_root", Status: cloudfiles.StatusIOError}
	}

	h.mu.Lock()
	h.server = server
	h.handle = handle
	h.mu.Unlock()
	return handle, nil
}

func (h *Host) mount(path string) (*fuse.Server, error) {
	entryTimeout := time.Second
	attrTimeout := time.Second
	negativeTimeout := 100 * time.Millisecond
	return gofuse.Mount(path, &dirNode{host: h, prefix: ""}, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName: "boothdrive",
			Name:   "boothdrive",
		},
	})
}

func (h *Host) DisconnectSyncRoot(handle cloudfiles.ConnectionHandle) error {
	h.mu.Lock()
	if handle == cloudfiles.InvalidConnection || handle != h.handle {
		h.mu.Unlock()
		return &cloudfiles.HostError{Op: "disconnect_sync_root", Status: cloudfiles.StatusInvalidArgument}
	}
	server := h.server
	h.server = nil
	h.handle = cloudfiles.InvalidConnection
	h.table = nil
	h.mu.Unlock()

	if server != nil {
		if err := server.Unmount(); err != nil {
			h.log.Warn().Err(err).Msg("unmount failed")
			return &cloudfiles.HostError{Op: "disconnect_sync_root", Status: cloudfiles.StatusIOError}
		}
		server.Wait()
	}
	return nil
}

func (h *Host) UnregisterSyncRoot(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered || h.root != path {
		return &cloudfiles.HostError{Op: "unregister_sync_root", Status: cloudfiles.StatusNotRegistered}
	}
	if h.handle != cloudfiles.InvalidConnection {
		return &cloudfiles.HostError{Op: "unregister_sync_root", Status: cloudfiles.StatusInvalidArgument}
	}
	h.registered = false
	return nil
}

func (h *Host) CreatePlaceholders(root string, descriptors []cloudfiles.PlaceholderDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered || h.root != root {
		return &cloudfiles.HostError{Op: "create_placeholders", Status: cloudfiles.StatusNotRegistered}
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return &cloudfiles.HostError{Op: "create_placeholders", Status: cloudfiles.StatusIOError}
	}
	for _, desc := range descriptors {
		rel := cloudfiles.NormalizePath(desc.RelativePath)
		if rel == "" || len(desc.Identity) == 0 {
			return &cloudfiles.HostError{Op: "create_placeholders", Status: cloudfiles.StatusInvalidArgument}
		}
		if _, exists := h.entries[rel]; exists {
			return &cloudfiles.HostError{Op: "create_placeholders", Status: cloudfiles.StatusAlreadyExists}
		}
		h.entries[rel] = &entry{
			rel:      rel,
			identity: append([]byte(nil), desc.Identity...),
			size:     desc.Size,
			meta:     desc.Metadata,
			inSync:   cloudfiles.InSyncStateInSync,
		}
	}
	return nil
}

func (h *Host) GetTransferKey(file *os.File) (cloudfiles.TransferKey, error) {
	e, err := h.entryForFile(file)
	if err != nil {
		return cloudfiles.InvalidTransferKey, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextKey++
	key := h.nextKey
	h.transfers[key] = &transferState{entry: e}
	return key, nil
}

func (h *Host) TransferData(handle cloudfiles.ConnectionHandle, key cloudfiles.TransferKey, data []byte, offset int64, status cloudfiles.Status) error {
	h.mu.Lock()
	if handle != cloudfiles.InvalidConnection && handle != h.handle {
		h.mu.Unlock()
		return &cloudfiles.HostError{Op: "transfer_data", Status: cloudfiles.StatusInvalidArgument}
	}
	state, ok := h.transfers[key]
	if !ok {
		h.mu.Unlock()
		return &cloudfiles.HostError{Op: "transfer_data", Status: cloudfiles.StatusNotFound}
	}
	delete(h.transfers, key)
	if pending, ok := h.pendingFetch[state.entry.rel]; ok && pending == key {
		delete(h.pendingFetch, state.entry.rel)
	}
	h.mu.Unlock()

	if status == cloudfiles.StatusOK {
		buf := append([]byte(nil), data...)
		state.entry.mu.Lock()
		state.entry.data = buf
		state.entry.size = int64(len(buf))
		state.entry.hydrated = true
		state.entry.mu.Unlock()
	}
	for _, waiter := range state.waiters {
		waiter <- fetchResult{data: data, status: status}
	}
	return nil
}

func (h *Host) AckData(handle cloudfiles.ConnectionHandle, key cloudfiles.TransferKey, offset, length int64, status cloudfiles.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle != h.handle {
		return &cloudfiles.HostError{Op: "ack_data", Status: cloudfiles.StatusInvalidArgument}
	}
	h.log.Debug().Uint64("key", uint64(key)).Int64("offset", offset).Int64("length", length).Msg("data acknowledged")
	return nil
}

func (h *Host) SetInSyncState(file *os.File, state cloudfiles.InSyncState) error {
	e, err := h.entryForFile(file)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.inSync = state
	e.mu.Unlock()
	return nil
}

func (h *Host) SetPinState(file *os.File, state cloudfiles.PinState) error {
	e, err := h.entryForFile(file)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.pin = state
	e.mu.Unlock()
	return nil
}

// entryForFile maps an opened handle back to its placeholder via the path
// the file was opened with.
func (h *Host) entryForFile(file *os.File) (*entry, error) {
	h.mu.Lock()
	root := h.root
	h.mu.Unlock()
	if root == "" {
		return nil, &cloudfiles.HostError{Op: "resolve_handle", Status: cloudfiles.StatusNotRegistered}
	}
	rel, err := filepath.Rel(root, file.Name())
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, &cloudfiles.HostError{Op: "resolve_handle", Status: cloudfiles.StatusInvalidArgument}
	}
	return h.lookupEntry(filepath.ToSlash(rel))
}

func (h *Host) lookupEntry(rel string) (*entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[cloudfiles.NormalizePath(rel)]
	if !ok {
		return nil, &cloudfiles.HostError{Op: "resolve_handle", Status: cloudfiles.StatusNotFound}
	}
	return e, nil
}

// raise invokes a connected callback, if any, off the host lock.
func (h *Host) raise(kind cloudfiles.EventKind, ev cloudfiles.Event) {
	h.mu.Lock()
	table := h.table
	h.mu.Unlock()
	if table == nil {
		return
	}
	handler, ok := table[kind]
	if !ok {
		return
	}
	ev.Kind = kind
	handler(ev)
}

// beginFetch registers a waiter for the entry's hydration, raising a fetch
// callback unless one is already outstanding for the same path.
func (h *Host) beginFetch(e *entry, pid uint32) (chan fetchResult, cloudfiles.TransferKey) {
	waiter := make(chan fetchResult, 1)

	h.mu.Lock()
	if key, ok := h.pendingFetch[e.rel]; ok {
		state := h.transfers[key]
		state.waiters = append(state.waiters, waiter)
		h.mu.Unlock()
		return waiter, key
	}
	h.nextKey++
	key := h.nextKey
	h.transfers[key] = &transferState{entry: e, waiters: []chan fetchResult{waiter}}
	h.pendingFetch[e.rel] = key
	e.mu.Lock()
	size := e.size
	e.mu.Unlock()
	h.mu.Unlock()

	h.raise(cloudfiles.EventFetchData, cloudfiles.Event{
		Path:        e.rel,
		TransferKey: key,
		Offset:      0,
		Length:      size,
		ProcessID:   pid,
	})
	return waiter, key
}

// abandonFetch drops one waiter after a timeout or interrupt and raises a
// cancel callback when it was the last one.
func (h *Host) abandonFetch(e *entry, key cloudfiles.TransferKey, waiter chan fetchResult) {
	h.mu.Lock()
	state, ok := h.transfers[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	remaining := state.waiters[:0]
	for _, w := range state.waiters {
		if w != waiter {
			remaining = append(remaining, w)
		}
	}
	state.waiters = remaining
	last := len(state.waiters) == 0
	if last {
		delete(h.transfers, key)
		if pending, ok := h.pendingFetch[e.rel]; ok && pending == key {
			delete(h.pendingFetch, e.rel)
		}
	}
	h.mu.Unlock()

	if last {
		h.raise(cloudfiles.EventCancelFetchData, cloudfiles.Event{Path: e.rel, TransferKey: key})
	}
}

// removeEntry drops host bookkeeping for a deleted placeholder.
func (h *Host) removeEntry(rel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[rel]; !ok {
		return false
	}
	delete(h.entries, rel)
	return true
}

// renameEntry moves host bookkeeping for a renamed placeholder.
func (h *Host) renameEntry(oldRel, newRel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[oldRel]
	if !ok {
		return false
	}
	if _, taken := h.entries[newRel]; taken {
		return false
	}
	delete(h.entries, oldRel)
	e.mu.Lock()
	e.rel = newRel
	e.mu.Unlock()
	h.entries[newRel] = e
	return true
}

// childNames lists the immediate children under a prefix ("" or "dir/").
func (h *Host) childNames(prefix string) ([]string, []bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := map[string]bool{}
	var names []string
	var isDir []bool
	for rel := range h.entries {
		if !strings.HasPrefix(rel, prefix) {
			continue
		}
		rest := strings.TrimPrefix(rel, prefix)
		if rest == "" {
			continue
		}
		name := rest
		dir := false
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name = rest[:idx]
			dir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
		isDir = append(isDir, dir)
	}
	return names, isDir
}

// child classifies one name under a prefix: file entry, directory prefix,
// or absent.
func (h *Host) child(prefix, name string) (*entry, bool, bool) {
	full := prefix + name
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[full]; ok {
		return e, false, true
	}
	dirPrefix := full + "/"
	for rel := range h.entries {
		if strings.HasPrefix(rel, dirPrefix) {
			return nil, true, true
		}
	}
	return nil, false, false
}

func (h *Host) addLocalEntry(rel string) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[rel]; ok {
		return e
	}
	now := time.Now()
	e := &entry{
		rel:      rel,
		identity: cloudfiles.Identity(rel),
		hydrated: true,
		data:     []byte{},
		inSync:   cloudfiles.InSyncStateNotInSync,
		meta:     cloudfiles.Metadata{CreatedAt: now, ModifiedAt: now, Mode: 0o644},
	}
	h.entries[rel] = e
	return e
}
