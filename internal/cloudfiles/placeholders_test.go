package cloudfiles

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newPlaceholderFixture(t *testing.T) (*PlaceholderManager, *fakeHost, string) {
	t.Helper()
	host := newFakeHost()
	conn := NewSyncRootConnection(host, testLogger())
	root := t.TempDir()
	if err := conn.Register(root, "Booth Drive"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := conn.Connect(root, CallbackTable{}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return NewPlaceholderManager(host, conn, root, testLogger()), host, root
}

func TestCreatePlaceholderBuildsDescriptor(t *testing.T) {
	m, host, _ := newPlaceholderFixture(t)

	meta := Metadata{CreatedAt: time.Now(), ModifiedAt: time.Now(), Mode: 0o644}
	if err := m.Create("docs/report.pdf", meta, 2048); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	created := host.createdDescriptors()
	if len(created) != 1 {
		t.Fatalf("expected one descriptor, got %d", len(created))
	}
	desc := created[0]
	if desc.RelativePath != "docs/report.pdf" || desc.Size != 2048 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if !bytes.Equal(desc.Identity, Identity("docs/report.pdf")) {
		t.Fatalf("descriptor identity does not match path identity")
	}
}

func TestCreatePlaceholderHostRejection(t *testing.T) {
	m, host, _ := newPlaceholderFixture(t)
	host.createErr = &HostError{Op: "create_placeholders", Status: StatusAlreadyExists}

	err := m.Create("docs/report.pdf", Metadata{}, 100)
	var createErr *PlaceholderCreateError
	if !errors.As(err, &createErr) {
		t.Fatalf("expected PlaceholderCreateError, got %v", err)
	}
	if status, ok := HostStatus(err); !ok || status != StatusAlreadyExists {
		t.Fatalf("expected wrapped already_exists status, got %v", status)
	}
}

func TestCreatePlaceholderRejectsEscapingPath(t *testing.T) {
	m, host, _ := newPlaceholderFixture(t)

	err := m.Create("../outside.txt", Metadata{}, 1)
	var createErr *PlaceholderCreateError
	if !errors.As(err, &createErr) {
		t.Fatalf("expected PlaceholderCreateError for escaping path, got %v", err)
	}
	if len(host.createdDescriptors()) != 0 {
		t.Fatalf("escaping path reached the host")
	}
}

func TestHydrateTransfersAndReportsProgressOnce(t *testing.T) {
	m, host, root := newPlaceholderFixture(t)

	target := filepath.Join(root, "docs", "report.pdf")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatalf("write placeholder stub failed: %v", err)
	}

	content := []byte("hydrated file body")
	var progressValues []float64
	err := m.Hydrate("docs/report.pdf", content, func(v float64) {
		progressValues = append(progressValues, v)
	})
	if err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}

	if len(progressValues) != 1 || progressValues[0] != 1.0 {
		t.Fatalf("progress callback values = %v, want exactly [1.0]", progressValues)
	}
	transfers := host.transferCalls()
	if len(transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(transfers))
	}
	if transfers[0].Offset != 0 || transfers[0].Status != StatusOK {
		t.Fatalf("unexpected transfer: %+v", transfers[0])
	}
	if !bytes.Equal(transfers[0].Data, content) {
		t.Fatalf("transfer carried %q, want %q", transfers[0].Data, content)
	}
	if transfers[0].Key == InvalidTransferKey {
		t.Fatalf("hydrate used the invalid transfer key sentinel")
	}
}

func TestHydrateOpenFailure(t *testing.T) {
	m, host, _ := newPlaceholderFixture(t)

	progressCalled := false
	err := m.Hydrate("missing/file.txt", []byte("data"), func(float64) {
		progressCalled = true
	})
	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if progressCalled {
		t.Fatalf("progress reported despite open failure")
	}
	if len(host.transferCalls()) != 0 {
		t.Fatalf("transfer attempted with no open handle")
	}
}

func TestHydrateHostTransferFailure(t *testing.T) {
	m, host, root := newPlaceholderFixture(t)
	host.transferErr = &HostError{Op: "transfer_data", Status: StatusIOError}

	target := filepath.Join(root, "file.bin")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatalf("write stub failed: %v", err)
	}

	err := m.Hydrate("file.bin", []byte("data"), nil)
	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %v", err)
	}
}

func TestSetInSyncState(t *testing.T) {
	m, host, root := newPlaceholderFixture(t)
	if err := os.WriteFile(filepath.Join(root, "file.bin"), nil, 0o644); err != nil {
		t.Fatalf("write stub failed: %v", err)
	}

	if err := m.SetInSync("file.bin", InSyncStateInSync); err != nil {
		t.Fatalf("set in-sync failed: %v", err)
	}
	if len(host.inSyncStates) != 1 || host.inSyncStates[0] != InSyncStateInSync {
		t.Fatalf("host saw in-sync states %v", host.inSyncStates)
	}

	host.inSyncErr = &HostError{Op: "set_in_sync_state", Status: StatusAccessDenied}
	err := m.SetInSync("file.bin", InSyncStateNotInSync)
	var stateErr *StateChangeError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateChangeError, got %v", err)
	}
}

func TestSetPinState(t *testing.T) {
	m, host, root := newPlaceholderFixture(t)
	if err := os.WriteFile(filepath.Join(root, "file.bin"), nil, 0o644); err != nil {
		t.Fatalf("write stub failed: %v", err)
	}

	if err := m.SetPin("file.bin", PinStatePinned); err != nil {
		t.Fatalf("set pin failed: %v", err)
	}
	if len(host.pinStates) != 1 || host.pinStates[0] != PinStatePinned {
		t.Fatalf("host saw pin states %v", host.pinStates)
	}

	err := m.SetPin("missing.bin", PinStateUnpinned)
	var stateErr *StateChangeError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateChangeError for missing file, got %v", err)
	}
}
