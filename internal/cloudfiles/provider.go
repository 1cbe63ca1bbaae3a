package cloudfiles

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Options configures a Provider.
type Options struct {
	Host         HostService
	SyncRootPath string
	DisplayName  string
	Logger       zerolog.Logger
}

// Provider composes the work queue, connection, dispatcher and placeholder
// manager and owns their combined lifecycle. It is an explicit object: the
// process entry point constructs one and passes it to whatever needs it.
type Provider struct {
	log          zerolog.Logger
	host         HostService
	root         string
	display      string
	queue        *WorkQueue
	conn         *SyncRootConnection
	dispatcher   *Dispatcher
	placeholders *PlaceholderManager

	mu          sync.Mutex
	initialized bool
	shutdown    bool
}

func New(opts Options) (*Provider, error) {
	if opts.Host == nil {
		return nil, ErrInvalidInput
	}
	root := strings.TrimSpace(opts.SyncRootPath)
	if root == "" {
		return nil, ErrInvalidInput
	}
	display := strings.TrimSpace(opts.DisplayName)
	if display == "" {
		display = "Booth Drive"
	}

	log := opts.Logger
	queue := NewWorkQueue(log)
	conn := NewSyncRootConnection(opts.Host, log)
	return &Provider{
		log:          log,
		host:         opts.Host,
		root:         root,
		display:      display,
		queue:        queue,
		conn:         conn,
		dispatcher:   NewDispatcher(opts.Host, conn, queue, log),
		placeholders: NewPlaceholderManager(opts.Host, conn, root, log),
	}, nil
}

// Init starts the background worker. Calling Init on an initialized
// provider is a no-op.
func (p *Provider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if p.shutdown {
		return ErrQueueStopped
	}
	go p.queue.Run()
	p.initialized = true
	p.log.Info().Str("root", p.root).Msg("provider initialized")
	return nil
}

// Shutdown stops the worker, waits for any in-flight item to finish and
// disconnects from the host. Idempotent.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	wasInitialized := p.initialized
	p.mu.Unlock()

	if wasInitialized {
		p.queue.Stop()
		<-p.queue.Done()
	}
	p.conn.Disconnect()
	p.log.Info().Msg("provider shut down")
}

// SetFetchSource installs the application content source. Must be called
// before RegisterSyncRoot; the slot is read without locking afterwards.
func (p *Provider) SetFetchSource(src FetchSource) {
	p.dispatcher.fetch = src
}

// SetNotifySink installs the application notification sink. Must be called
// before RegisterSyncRoot.
func (p *Provider) SetNotifySink(sink NotifySink) {
	p.dispatcher.notify = sink
}

// RegisterSyncRoot registers the configured path as a sync root and connects
// the callback table.
func (p *Provider) RegisterSyncRoot() error {
	if err := p.conn.Register(p.root, p.display); err != nil {
		return err
	}
	return p.conn.Connect(p.root, p.dispatcher.CallbackTable())
}

// UnregisterSyncRoot disconnects and drops the registration, best-effort.
func (p *Provider) UnregisterSyncRoot() {
	p.conn.Unregister(p.root)
}

func (p *Provider) CreatePlaceholder(relativePath string, meta Metadata, size int64) error {
	return p.placeholders.Create(relativePath, meta, size)
}

func (p *Provider) Hydrate(relativePath string, data []byte, progress func(float64)) error {
	return p.placeholders.Hydrate(relativePath, data, progress)
}

func (p *Provider) SetInSyncState(relativePath string, state InSyncState) error {
	return p.placeholders.SetInSync(relativePath, state)
}

func (p *Provider) SetPinState(relativePath string, state PinState) error {
	return p.placeholders.SetPin(relativePath, state)
}

// SyncRoot reports the configured sync root path.
func (p *Provider) SyncRoot() string { return p.root }

// Connected reports whether the sync root connection is live.
func (p *Provider) Connected() bool { return p.conn.Connected() }

// QueueDepth reports the number of fetch work items awaiting execution.
func (p *Provider) QueueDepth() int { return p.queue.Depth() }
