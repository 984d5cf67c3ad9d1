/*
	Copyright 2023 Loophole Labs

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

		   http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package sockaddr builds the raw sockaddr_in/sockaddr_in6 byte layouts
// that ACCEPT and CONNECT SQEs need an address pointer for. The teacher
// repo's listener.go called a NewClientAddress() constructor that never
// existed anywhere in the retrieved source; this package is the
// from-scratch replacement,
// generalized from a single accept-only helper into something CONNECT can
// use as well.
package sockaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

func uintptrOf(b *byte) uintptr     { return uintptr(unsafe.Pointer(b)) }
func uintptrOf2(u *uint32) uintptr  { return uintptr(unsafe.Pointer(u)) }

const (
	sizeofSockaddrIn  = 16
	sizeofSockaddrIn6 = 28
	// sizeofSockaddrStorage is large enough to hold either family; ACCEPT
	// writes its peer address into a buffer of this size regardless of
	// which family actually connects.
	sizeofSockaddrStorage = 128
)

// ClientAddress is the out-parameter pair an ACCEPT SQE needs: a buffer
// big enough for any address family, and a length cell the kernel
// populates with how much of it it actually wrote.
type ClientAddress struct {
	addr   [sizeofSockaddrStorage]byte
	length uint32
}

func NewClientAddress() *ClientAddress {
	ca := &ClientAddress{}
	ca.length = uint32(len(ca.addr))
	return ca
}

// AddressPointer returns the address of the raw sockaddr buffer, suitable
// for an SQE's buffer-address field.
func (c *ClientAddress) AddressPointer() uintptr {
	return uintptrOf(&c.addr[0])
}

// LengthPointer returns the address of the length cell the kernel writes
// the accepted peer's sockaddr length into.
func (c *ClientAddress) LengthPointer() uintptr {
	return uintptrOf2(&c.length)
}

// Addr decodes whatever the kernel wrote back into a net.Addr. Only
// AF_INET and AF_INET6 are understood; anything else is reported as an
// error rather than silently returning a zero value.
func (c *ClientAddress) Addr() (net.Addr, error) {
	family := binary.LittleEndian.Uint16(c.addr[0:2])
	switch family {
	case unix.AF_INET:
		port := binary.BigEndian.Uint16(c.addr[2:4])
		ip := net.IP(append([]byte(nil), c.addr[4:8]...))
		return &net.TCPAddr{IP: ip, Port: int(port)}, nil
	case unix.AF_INET6:
		port := binary.BigEndian.Uint16(c.addr[2:4])
		ip := net.IP(append([]byte(nil), c.addr[8:24]...))
		return &net.TCPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, fmt.Errorf("sockaddr: unsupported address family %d", family)
	}
}

// Sockaddr4 is the raw struct sockaddr_in layout CONNECT expects for an
// AF_INET destination.
type Sockaddr4 struct {
	raw [sizeofSockaddrIn]byte
}

// NewSockaddr4 packs ip:port into a struct sockaddr_in.
func NewSockaddr4(ip [4]byte, port int) *Sockaddr4 {
	s := &Sockaddr4{}
	binary.LittleEndian.PutUint16(s.raw[0:2], unix.AF_INET)
	binary.BigEndian.PutUint16(s.raw[2:4], uint16(port))
	copy(s.raw[4:8], ip[:])
	return s
}

func (s *Sockaddr4) AddressPointer() uintptr { return uintptrOf(&s.raw[0]) }
func (s *Sockaddr4) Len() uint64             { return sizeofSockaddrIn }

// Sockaddr6 is the raw struct sockaddr_in6 layout CONNECT expects for an
// AF_INET6 destination.
type Sockaddr6 struct {
	raw [sizeofSockaddrIn6]byte
}

// NewSockaddr6 packs ip:port into a struct sockaddr_in6. Flow label and
// scope id are left zero; nothing in this module's scope needs them.
func NewSockaddr6(ip [16]byte, port int) *Sockaddr6 {
	s := &Sockaddr6{}
	binary.LittleEndian.PutUint16(s.raw[0:2], unix.AF_INET6)
	binary.BigEndian.PutUint16(s.raw[2:4], uint16(port))
	copy(s.raw[8:24], ip[:])
	return s
}

func (s *Sockaddr6) AddressPointer() uintptr { return uintptrOf(&s.raw[0]) }
func (s *Sockaddr6) Len() uint64             { return sizeofSockaddrIn6 }

// FromTCPAddr builds the right family of raw sockaddr for a *net.TCPAddr,
// returning an address pointer and length ready for addConnect. The
// returned value must be kept alive by the caller for as long as the
// CONNECT SQE referencing it is outstanding.
func FromTCPAddr(addr *net.TCPAddr) (pointer func() uintptr, length uint64, err error) {
	if v4 := addr.IP.To4(); v4 != nil {
		s := NewSockaddr4([4]byte{v4[0], v4[1], v4[2], v4[3]}, addr.Port)
		return s.AddressPointer, s.Len(), nil
	}
	v6 := addr.IP.To16()
	if v6 == nil {
		return nil, 0, fmt.Errorf("sockaddr: unrecognized IP %v", addr.IP)
	}
	var ip [16]byte
	copy(ip[:], v6)
	s := NewSockaddr6(ip, addr.Port)
	return s.AddressPointer, s.Len(), nil
}
