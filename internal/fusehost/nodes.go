package fusehost

import (
	"context"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/mainbooth/boothdrive/internal/cloudfiles"
)

// dirNode serves a directory level of the placeholder namespace. Directories
// are implicit: they exist exactly while an entry lives under their prefix.
type dirNode struct {
	gofuse.Inode
	host   *Host
	prefix string // "" for the root, "docs/" for a subdirectory
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)
var _ gofuse.NodeRenamer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	e, isDir, ok := d.host.child(d.prefix, name)
	if !ok {
		return nil, unix.ENOENT
	}
	if isDir {
		child := d.NewPersistentInode(ctx, &dirNode{
			host:   d.host,
			prefix: d.prefix + name + "/",
		}, gofuse.StableAttr{Mode: unix.S_IFDIR})
		out.Mode = unix.S_IFDIR | 0o755
		return child, 0
	}
	node := &fileNode{host: d.host, entry: e}
	child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: unix.S_IFREG})
	node.fillEntryOut(out)
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	names, isDir := d.host.childNames(d.prefix)
	entries := make([]fuse.DirEntry, 0, len(names))
	for i, name := range names {
		mode := uint32(unix.S_IFREG)
		if isDir[i] {
			mode = unix.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return gofuse.NewListDirStream(entries), 0
}

// Unlink removes the placeholder and notifies the provider, matching the
// delete / delete-completion callback pair.
func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	rel := d.prefix + name
	d.host.raise(cloudfiles.EventDelete, cloudfiles.Event{Path: rel, ProcessID: callerPid(ctx)})
	if !d.host.removeEntry(rel) {
		return unix.ENOENT
	}
	d.RmChild(name)
	d.host.raise(cloudfiles.EventDeleteCompletion, cloudfiles.Event{Path: rel})
	return 0
}

func (d *dirNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*dirNode)
	if !ok {
		return unix.EXDEV
	}
	oldRel := d.prefix + name
	newRel := target.prefix + newName

	d.host.raise(cloudfiles.EventRename, cloudfiles.Event{Path: oldRel, TargetPath: newRel, ProcessID: callerPid(ctx)})
	if !d.host.renameEntry(oldRel, newRel) {
		return unix.ENOENT
	}
	d.host.raise(cloudfiles.EventRenameCompletion, cloudfiles.Event{Path: oldRel, TargetPath: newRel})
	return 0
}

// Create makes a plain local file, not a placeholder: content written here
// is host-local until the provider picks it up.
func (d *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	rel := d.prefix + name
	e := d.host.addLocalEntry(rel)
	node := &fileNode{host: d.host, entry: e}
	child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: unix.S_IFREG})
	node.fillEntryOut(out)
	return child, nil, 0, 0
}

// fileNode serves one placeholder. Reads of a dehydrated placeholder block
// until the provider answers the raised fetch callback with a transfer.
type fileNode struct {
	gofuse.Inode
	host  *Host
	entry *entry
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)
var _ gofuse.NodeWriter = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeReleaser = (*fileNode)(nil)

func (n *fileNode) fillEntryOut(out *fuse.EntryOut) {
	n.entry.mu.Lock()
	defer n.entry.mu.Unlock()
	out.Mode = unix.S_IFREG | uint32(n.entry.meta.Mode.Perm())
	if out.Mode == unix.S_IFREG {
		out.Mode |= 0o644
	}
	out.Size = uint64(n.entry.size)
}

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.entry.mu.Lock()
	defer n.entry.mu.Unlock()
	perm := uint32(n.entry.meta.Mode.Perm())
	if perm == 0 {
		perm = 0o644
	}
	out.Mode = unix.S_IFREG | perm
	out.Size = uint64(n.entry.size)
	out.Blocks = (out.Size + 511) / 512
	setTimes(&out.Attr, n.entry.meta)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	n.host.raise(cloudfiles.EventFileOpenCompletion, cloudfiles.Event{
		Path:      n.entry.rel,
		ProcessID: callerPid(ctx),
	})
	return nil, 0, 0
}

func (n *fileNode) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	n.host.raise(cloudfiles.EventFileCloseCompletion, cloudfiles.Event{Path: n.entry.rel})
	return 0
}

func (n *fileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.entry.mu.Lock()
	hydrated := n.entry.hydrated
	n.entry.mu.Unlock()

	if !hydrated {
		if errno := n.awaitHydration(ctx); errno != 0 {
			return nil, errno
		}
	}

	n.entry.mu.Lock()
	defer n.entry.mu.Unlock()
	if off >= int64(len(n.entry.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(n.entry.data)) {
		end = int64(len(n.entry.data))
	}
	return fuse.ReadResultData(n.entry.data[off:end]), 0
}

// awaitHydration raises a fetch callback (or joins an outstanding one) and
// blocks until the provider transfers the data, the host timeout elapses,
// or the kernel interrupts the read.
func (n *fileNode) awaitHydration(ctx context.Context) syscall.Errno {
	waiter, key := n.host.beginFetch(n.entry, callerPid(ctx))

	timer := time.NewTimer(n.host.fetchTimeout)
	defer timer.Stop()
	select {
	case res := <-waiter:
		if res.status != cloudfiles.StatusOK {
			return unix.EIO
		}
		return 0
	case <-timer.C:
		n.host.abandonFetch(n.entry, key, waiter)
		return unix.ETIMEDOUT
	case <-ctx.Done():
		n.host.abandonFetch(n.entry, key, waiter)
		return unix.EINTR
	}
}

// Write mutates hydrated content in place and drops the in-sync marker, so
// the provider can observe local modification.
func (n *fileNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n.entry.mu.Lock()
	defer n.entry.mu.Unlock()
	if !n.entry.hydrated {
		return 0, unix.EIO
	}
	end := off + int64(len(data))
	if end > int64(len(n.entry.data)) {
		grown := make([]byte, end)
		copy(grown, n.entry.data)
		n.entry.data = grown
	}
	copy(n.entry.data[off:end], data)
	n.entry.size = int64(len(n.entry.data))
	n.entry.meta.ModifiedAt = time.Now()
	n.entry.inSync = cloudfiles.InSyncStateNotInSync
	return uint32(len(data)), 0
}

func (n *fileNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.entry.mu.Lock()
	if size, ok := in.GetSize(); ok {
		if n.entry.hydrated {
			if size < uint64(len(n.entry.data)) {
				n.entry.data = n.entry.data[:size]
			} else {
				grown := make([]byte, size)
				copy(grown, n.entry.data)
				n.entry.data = grown
			}
		}
		n.entry.size = int64(size)
		n.entry.inSync = cloudfiles.InSyncStateNotInSync
	}
	perm := uint32(n.entry.meta.Mode.Perm())
	if perm == 0 {
		perm = 0o644
	}
	out.Mode = unix.S_IFREG | perm
	out.Size = uint64(n.entry.size)
	setTimes(&out.Attr, n.entry.meta)
	n.entry.mu.Unlock()
	return 0
}

func setTimes(attr *fuse.Attr, meta cloudfiles.Metadata) {
	if !meta.ModifiedAt.IsZero() {
		attr.SetTimes(&meta.AccessedAt, &meta.ModifiedAt, &meta.ModifiedAt)
	}
}

func callerPid(ctx context.Context) uint32 {
	if caller, ok := fuse.FromContext(ctx); ok {
		return caller.Pid
	}
	return 0
}
