package sockaddr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// UnixKind classifies an AF_UNIX address per spec.md §4.4.
type UnixKind int

const (
	UnixUnnamed UnixKind = iota
	UnixPathname
	UnixAbstract
)

// UnixView is a typed view over an AF_UNIX address.
type UnixView struct {
	Kind UnixKind
	// Path holds the NUL-terminated pathname for UnixPathname.
	Path string
	// Name holds the (possibly NUL-containing) abstract name for
	// UnixAbstract, without the leading NUL discriminator byte.
	Name []byte
}

// AsUnix returns a typed view iff the family is AF_UNIX.
func (a *Addr) AsUnix() (UnixView, bool) {
	if a.Family() != unix.AF_UNIX {
		return UnixView{}, false
	}

	sunPath := a.buf[familyOffset:a.length]

	if len(sunPath) == 0 {
		return UnixView{Kind: UnixUnnamed}, true
	}

	if sunPath[0] == 0 {
		return UnixView{Kind: UnixAbstract, Name: append([]byte(nil), sunPath[1:]...)}, true
	}

	nul := bytes.IndexByte(sunPath, 0)
	if nul < 0 {
		nul = len(sunPath)
	}
	return UnixView{Kind: UnixPathname, Path: string(sunPath[:nul])}, true
}

// NewUnixPathname constructs a pathname AF_UNIX address. path must not
// exceed the available sun_path storage (maxSize - familyOffset - 1, to
// leave room for the NUL terminator).
func NewUnixPathname(path string) (*Addr, error) {
	maxPath := maxSize - familyOffset - 1
	if len(path) > maxPath {
		return nil, fmt.Errorf("sockaddr: unix pathname %q exceeds %d bytes", path, maxPath)
	}
	if len(path) == 0 || path[0] == 0 {
		return nil, fmt.Errorf("sockaddr: pathname address must have non-NUL first byte")
	}

	a := &Addr{length: familyOffset + len(path) + 1}
	putFamily(a, unix.AF_UNIX)
	copy(a.buf[familyOffset:], path)
	// a.buf is already zeroed, so the NUL terminator is implicit.
	return a, nil
}

// NewUnixAbstract constructs an abstract AF_UNIX address from name, which
// may contain NUL bytes.
func NewUnixAbstract(name []byte) (*Addr, error) {
	if familyOffset+1+len(name) > maxSize {
		return nil, fmt.Errorf("sockaddr: abstract name too long: %d bytes", len(name))
	}
	a := &Addr{length: familyOffset + 1 + len(name)}
	putFamily(a, unix.AF_UNIX)
	// buf[familyOffset] stays 0, the abstract-address discriminator.
	copy(a.buf[familyOffset+1:], name)
	return a, nil
}

// NewUnixUnnamed constructs the unnamed AF_UNIX address (declared length
// equal to the family offset).
func NewUnixUnnamed() *Addr {
	a := &Addr{length: familyOffset}
	putFamily(a, unix.AF_UNIX)
	return a
}

func putFamily(a *Addr, family uint16) {
	binary.NativeEndian.PutUint16(a.buf[:2], family)
}
