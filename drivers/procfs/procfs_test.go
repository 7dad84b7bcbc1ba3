package procfs

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestReadWriteOwnProcess(t *testing.T) {
	d := New()
	pid := os.Getpid()
	h, err := d.Bind(pid)
	require.NoError(t, err)
	defer d.Unbind(h)

	buf := make([]byte, 8)
	buf[0] = 0x42
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	out := make([]byte, 1)
	require.NoError(t, d.BoundRead(h, addr, out, nil))
	require.Equal(t, byte(0x42), out[0])

	require.NoError(t, d.BoundWrite(h, addr, []byte{0x99}))
	require.Equal(t, byte(0x99), buf[0])
}

func TestUnbindClosesHandle(t *testing.T) {
	d := New()
	pid := os.Getpid()
	h, err := d.Bind(pid)
	require.NoError(t, err)
	require.NoError(t, d.Unbind(h))
	require.Len(t, d.files, 0)
}
