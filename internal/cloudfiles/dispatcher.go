package cloudfiles

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher holds the host-invoked event handlers. Fetch requests are
// deferred onto the work queue; validate requests are acknowledged inline on
// the callback thread; notifications are forwarded to the application sink.
//
// The fetch source and notify sink are written once before Connect and
// read-only afterwards, so handlers read them without locking.
type Dispatcher struct {
	log   zerolog.Logger
	host  HostService
	conn  *SyncRootConnection
	queue *WorkQueue

	fetch  FetchSource
	notify NotifySink

	mu       sync.Mutex
	inflight map[TransferKey]context.CancelFunc
}

func NewDispatcher(host HostService, conn *SyncRootConnection, queue *WorkQueue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		log:      log,
		host:     host,
		conn:     conn,
		queue:    queue,
		inflight: make(map[TransferKey]context.CancelFunc),
	}
}

// CallbackTable binds every host event kind to its handler.
func (d *Dispatcher) CallbackTable() CallbackTable {
	return CallbackTable{
		EventFetchData:           d.onFetchData,
		EventValidateData:        d.onValidateData,
		EventCancelFetchData:     d.onCancelFetchData,
		EventFileOpenCompletion:  d.onFileOpenCompletion,
		EventFileCloseCompletion: d.onFileCloseCompletion,
		EventDehydrate:           d.onDehydrate,
		EventDehydrateCompletion: d.onDehydrateCompletion,
		EventDelete:              d.onDelete,
		EventDeleteCompletion:    d.onDeleteCompletion,
		EventRename:              d.onRename,
		EventRenameCompletion:    d.onRenameCompletion,
	}
}

// onFetchData builds a work item capturing the path and transfer key and
// enqueues it. With no fetch source configured the request is left
// unacknowledged; the host times it out.
func (d *Dispatcher) onFetchData(ev Event) {
	d.log.Debug().Str("path", ev.Path).Uint64("key", uint64(ev.TransferKey)).Msg("fetch data requested")

	if d.fetch == nil {
		d.log.Warn().Str("path", ev.Path).Msg("fetch requested with no fetch source configured")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.trackFetch(ev.TransferKey, cancel)

	path := ev.Path
	key := ev.TransferKey
	d.queue.Enqueue(WorkItem{
		Path: path,
		Run: func() error {
			defer d.releaseFetch(key)
			data, err := d.fetch.Fetch(ctx, path)
			if err != nil {
				// Complete the host request with a failure status so the
				// open does not hang until the host timeout.
				if terr := d.host.TransferData(d.conn.Handle(), key, nil, 0, StatusIOError); terr != nil {
					d.log.Warn().Str("path", path).Err(terr).Msg("failure transfer not delivered")
				}
				return &TransferError{Path: path, Err: err}
			}
			if err := d.host.TransferData(d.conn.Handle(), key, data, 0, StatusOK); err != nil {
				return &TransferError{Path: path, Err: err}
			}
			return nil
		},
	})
}

// onValidateData answers inline: the host is waiting for an acknowledgement
// echoing the requested offset and length. Never deferred.
func (d *Dispatcher) onValidateData(ev Event) {
	if err := d.host.AckData(d.conn.Handle(), ev.TransferKey, ev.Offset, ev.Length, StatusOK); err != nil {
		d.log.Error().Str("path", ev.Path).Err(err).Msg("validate ack failed")
	}
}

// onCancelFetchData cancels the context handed to an in-flight fetch, if the
// key is still tracked. The fetch source may ignore the cancellation.
func (d *Dispatcher) onCancelFetchData(ev Event) {
	d.mu.Lock()
	cancel, ok := d.inflight[ev.TransferKey]
	d.mu.Unlock()
	if !ok {
		d.log.Debug().Str("path", ev.Path).Uint64("key", uint64(ev.TransferKey)).Msg("cancel for unknown fetch")
		return
	}
	d.log.Info().Str("path", ev.Path).Uint64("key", uint64(ev.TransferKey)).Msg("cancelling fetch")
	cancel()
}

func (d *Dispatcher) onFileOpenCompletion(ev Event)  { d.forward(ev.Path, "file_opened") }
func (d *Dispatcher) onFileCloseCompletion(ev Event) { d.forward(ev.Path, "file_closed") }
func (d *Dispatcher) onDelete(ev Event)              { d.forward(ev.Path, "file_deleted") }
func (d *Dispatcher) onRename(ev Event)              { d.forward(ev.Path, "file_renamed") }

func (d *Dispatcher) onDehydrate(ev Event) {
	d.log.Debug().Str("path", ev.Path).Msg("dehydrate notification")
}

func (d *Dispatcher) onDehydrateCompletion(ev Event) {
	d.log.Debug().Str("path", ev.Path).Msg("dehydrate completed")
}

func (d *Dispatcher) onDeleteCompletion(ev Event) {
	d.log.Debug().Str("path", ev.Path).Msg("delete completed")
}

func (d *Dispatcher) onRenameCompletion(ev Event) {
	d.log.Debug().Str("path", ev.Path).Str("target", ev.TargetPath).Msg("rename completed")
}

func (d *Dispatcher) forward(path, event string) {
	if d.notify == nil {
		return
	}
	d.notify.Notify(NormalizePath(path), event)
}

func (d *Dispatcher) trackFetch(key TransferKey, cancel context.CancelFunc) {
	d.mu.Lock()
	d.inflight[key] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) releaseFetch(key TransferKey) {
	d.mu.Lock()
	cancel, ok := d.inflight[key]
	delete(d.inflight, key)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}
