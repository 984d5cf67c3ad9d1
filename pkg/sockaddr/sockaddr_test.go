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

package sockaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewSockaddr4PacksFamilyPortAndAddr(t *testing.T) {
	s := NewSockaddr4([4]byte{127, 0, 0, 1}, 9090)
	assert.EqualValues(t, sizeofSockaddrIn, s.Len())
	assert.NotZero(t, s.AddressPointer())
	// AF_INET little-endian, port 9090 (0x2382) big-endian, then the address.
	assert.Equal(t, []byte{2, 0}, s.raw[0:2])
	assert.Equal(t, []byte{0x23, 0x82}, s.raw[2:4])
	assert.Equal(t, []byte{127, 0, 0, 1}, s.raw[4:8])
}

func TestNewSockaddr6PacksFamilyPortAndAddr(t *testing.T) {
	var ip [16]byte
	copy(ip[:], net.ParseIP("::1").To16())
	s := NewSockaddr6(ip, 9090)
	assert.EqualValues(t, sizeofSockaddrIn6, s.Len())
	assert.NotZero(t, s.AddressPointer())
	// AF_INET6 little-endian, port 9090 (0x2382) big-endian, then the
	// address after the 4-byte flow label.
	assert.Equal(t, []byte{byte(unix.AF_INET6), 0}, s.raw[0:2])
	assert.Equal(t, []byte{0x23, 0x82}, s.raw[2:4])
	assert.Equal(t, ip[:], s.raw[8:24])
}

func TestFromTCPAddrPicksIPv4(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 80}
	pointer, length, err := FromTCPAddr(addr)
	require.NoError(t, err)
	assert.EqualValues(t, sizeofSockaddrIn, length)
	assert.NotZero(t, pointer())
}

func TestFromTCPAddrPicksIPv6(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}
	pointer, length, err := FromTCPAddr(addr)
	require.NoError(t, err)
	assert.EqualValues(t, sizeofSockaddrIn6, length)
	assert.NotZero(t, pointer())
}

func TestClientAddressDecodesIPv4(t *testing.T) {
	ca := NewClientAddress()
	// AF_INET, port 8080 (big-endian), 127.0.0.1.
	ca.addr[0] = 2
	ca.addr[1] = 0
	ca.addr[2] = 0x1f
	ca.addr[3] = 0x90
	ca.addr[4] = 127
	ca.addr[5] = 0
	ca.addr[6] = 0
	ca.addr[7] = 1

	addr, err := ca.Addr()
	require.NoError(t, err)
	tcpAddr, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, 0x1f90, tcpAddr.Port)
	assert.True(t, tcpAddr.IP.Equal(net.ParseIP("127.0.0.1")))
}

func TestClientAddressRejectsUnknownFamily(t *testing.T) {
	ca := NewClientAddress()
	ca.addr[0] = 99
	_, err := ca.Addr()
	assert.Error(t, err)
}

func TestNewClientAddressInitializesLength(t *testing.T) {
	ca := NewClientAddress()
	assert.EqualValues(t, sizeofSockaddrStorage, ca.length)
	assert.NotZero(t, ca.LengthPointer())
}
