// Package descriptor implements the per-process descriptor table: small
// non-negative integers mapping to reference-counted open file handles,
// per spec.md §3 "Descriptor table".
package descriptor

import "fmt"

// File is anything a descriptor can point at: a TCP socket, a UDP
// socket, a Unix socket, or any other closeable resource the syscall
// layer hands out a descriptor for.
type File interface {
	Close() error
}

// Flags holds per-descriptor flags. Only CLOEXEC is modeled, matching
// spec.md's "currently only CLOEXEC" note.
type Flags struct {
	CloseOnExec bool
}

// OpenFile is a reference-counted handle to a File. Multiple descriptors
// (e.g. after dup) can share one OpenFile; the File is closed only when
// the last handle is released.
type OpenFile struct {
	file File
	refs int
}

func newOpenFile(f File) *OpenFile { return &OpenFile{file: f, refs: 1} }

// File returns the underlying resource.
func (o *OpenFile) File() File { return o.file }

func (o *OpenFile) acquire() *OpenFile {
	o.refs++
	return o
}

func (o *OpenFile) release() error {
	o.refs--
	if o.refs <= 0 {
		return o.file.Close()
	}
	return nil
}

type descriptor struct {
	open  *OpenFile
	flags Flags
}

// Table is a process's descriptor table: fd -> descriptor.
type Table struct {
	entries map[int]*descriptor
}

// NewTable returns an empty descriptor table, with fds allocated starting
// at 0.
func NewTable() *Table {
	return &Table{entries: make(map[int]*descriptor)}
}

// Open installs a brand-new OpenFile for f at the lowest available fd,
// matching POSIX's dup/open fd-allocation contract.
func (t *Table) Open(f File, flags Flags) int {
	fd := t.allocFD()
	t.entries[fd] = &descriptor{open: newOpenFile(f), flags: flags}
	return fd
}

func (t *Table) allocFD() int {
	for fd := 0; ; fd++ {
		if _, taken := t.entries[fd]; !taken {
			return fd
		}
	}
}

// Dup installs a new descriptor sharing srcFD's OpenFile, returning the
// new fd.
func (t *Table) Dup(srcFD int) (int, error) {
	src, ok := t.entries[srcFD]
	if !ok {
		return 0, fmt.Errorf("descriptor: %d: %w", srcFD, ErrBadFD)
	}
	fd := t.allocFD()
	t.entries[fd] = &descriptor{open: src.open.acquire(), flags: Flags{}}
	return fd, nil
}

// Get returns the File installed at fd.
func (t *Table) Get(fd int) (File, error) {
	d, ok := t.entries[fd]
	if !ok {
		return nil, fmt.Errorf("descriptor: %d: %w", fd, ErrBadFD)
	}
	return d.open.File(), nil
}

// SetFlags updates fd's flags in place.
func (t *Table) SetFlags(fd int, flags Flags) error {
	d, ok := t.entries[fd]
	if !ok {
		return fmt.Errorf("descriptor: %d: %w", fd, ErrBadFD)
	}
	d.flags = flags
	return nil
}

// Flags returns fd's current flags.
func (t *Table) Flags(fd int) (Flags, error) {
	d, ok := t.entries[fd]
	if !ok {
		return Flags{}, fmt.Errorf("descriptor: %d: %w", fd, ErrBadFD)
	}
	return d.flags, nil
}

// Close releases fd, closing the underlying File if this was its last
// reference.
func (t *Table) Close(fd int) error {
	d, ok := t.entries[fd]
	if !ok {
		return fmt.Errorf("descriptor: %d: %w", fd, ErrBadFD)
	}
	delete(t.entries, fd)
	return d.open.release()
}

// CloseOnExec closes every descriptor whose CLOEXEC flag is set, as the
// executor must on a successful execve.
func (t *Table) CloseOnExec() error {
	var firstErr error
	for fd, d := range t.entries {
		if !d.flags.CloseOnExec {
			continue
		}
		delete(t.entries, fd)
		if err := d.open.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// errBadFD is returned (wrapped) when an operation names an fd that is
// not currently open.
type errBadFD struct{}

func (errBadFD) Error() string { return "bad file descriptor" }

// ErrBadFD is the sentinel every Table method wraps when fd is unknown.
var ErrBadFD error = errBadFD{}
