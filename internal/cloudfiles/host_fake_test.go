package cloudfiles

import (
	"os"
	"sync"
)

type transferCall struct {
	Handle ConnectionHandle
	Key    TransferKey
	Data   []byte
	Offset int64
	Status Status
}

type ackCall struct {
	Handle ConnectionHandle
	Key    TransferKey
	Offset int64
	Length int64
	Status Status
}

// fakeHost records every host call so tests can assert on the exact command
// sequence the provider issued.
type fakeHost struct {
	mu sync.Mutex

	registerErr error
	connectErr  error
	createErr   error
	transferErr error
	ackErr      error
	inSyncErr   error
	pinErr      error

	registrations map[string]RegistrationDescriptor
	table         CallbackTable
	nextHandle    ConnectionHandle
	nextKey       TransferKey

	disconnects  []ConnectionHandle
	unregisters  []string
	created      []PlaceholderDescriptor
	transfers    []transferCall
	acks         []ackCall
	inSyncStates []InSyncState
	pinStates    []PinState
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		registrations: map[string]RegistrationDescriptor{},
		nextHandle:    100,
		nextKey:       1000,
	}
}

func (h *fakeHost) RegisterSyncRoot(path string, reg RegistrationDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registerErr != nil {
		return h.registerErr
	}
	h.registrations[path] = reg
	return nil
}

func (h *fakeHost) ConnectSyncRoot(path string, table CallbackTable, flags ConnectFlags) (ConnectionHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectErr != nil {
		return InvalidConnection, h.connectErr
	}
	h.table = table
	h.nextHandle++
	return h.nextHandle, nil
}

func (h *fakeHost) DisconnectSyncRoot(handle ConnectionHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, handle)
	return nil
}

func (h *fakeHost) UnregisterSyncRoot(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisters = append(h.unregisters, path)
	delete(h.registrations, path)
	return nil
}

func (h *fakeHost) CreatePlaceholders(root string, descriptors []PlaceholderDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return h.createErr
	}
	h.created = append(h.created, descriptors...)
	return nil
}

func (h *fakeHost) GetTransferKey(file *os.File) (TransferKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextKey++
	return h.nextKey, nil
}

func (h *fakeHost) TransferData(handle ConnectionHandle, key TransferKey, data []byte, offset int64, status Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transferErr != nil {
		return h.transferErr
	}
	h.transfers = append(h.transfers, transferCall{
		Handle: handle,
		Key:    key,
		Data:   append([]byte(nil), data...),
		Offset: offset,
		Status: status,
	})
	return nil
}

func (h *fakeHost) AckData(handle ConnectionHandle, key TransferKey, offset, length int64, status Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ackErr != nil {
		return h.ackErr
	}
	h.acks = append(h.acks, ackCall{Handle: handle, Key: key, Offset: offset, Length: length, Status: status})
	return nil
}

func (h *fakeHost) SetInSyncState(file *os.File, state InSyncState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inSyncErr != nil {
		return h.inSyncErr
	}
	h.inSyncStates = append(h.inSyncStates, state)
	return nil
}

func (h *fakeHost) SetPinState(file *os.File, state PinState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pinErr != nil {
		return h.pinErr
	}
	h.pinStates = append(h.pinStates, state)
	return nil
}

func (h *fakeHost) transferCalls() []transferCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transferCall(nil), h.transfers...)
}

func (h *fakeHost) ackCalls() []ackCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ackCall(nil), h.acks...)
}

func (h *fakeHost) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

func (h *fakeHost) unregisterCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.unregisters)
}

func (h *fakeHost) createdDescriptors() []PlaceholderDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PlaceholderDescriptor(nil), h.created...)
}

func (h *fakeHost) callbackTable() CallbackTable {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.table
}
