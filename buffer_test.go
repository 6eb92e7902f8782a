package szd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBufferRoundsUpToBlockSize(t *testing.T) {
	b, err := NewBuffer(512, 100)
	require.NoError(t, err)
	require.Equal(t, 512, b.Len())
}

func TestNewBufferRejectsZeroBlockSize(t *testing.T) {
	_, err := NewBuffer(0, 100)
	require.Error(t, err)
}

func TestNewBufferRejectsNegativeSize(t *testing.T) {
	_, err := NewBuffer(512, -1)
	require.Error(t, err)
}

func TestBufferAppendAtAdvancesWriteHead(t *testing.T) {
	b, err := NewBuffer(512, 1024)
	require.NoError(t, err)

	var head uint32
	require.NoError(t, b.AppendAt([]byte("hello"), &head, 5))
	require.Equal(t, uint32(5), head)
	require.Equal(t, []byte("hello"), b.Raw()[:5])

	require.NoError(t, b.AppendAt([]byte("world"), &head, 5))
	require.Equal(t, uint32(10), head)
	require.Equal(t, []byte("helloworld"), b.Raw()[:10])
}

func TestBufferAppendAtRejectsOverflow(t *testing.T) {
	b, err := NewBuffer(512, 512)
	require.NoError(t, err)

	head := uint32(510)
	err = b.AppendAt([]byte("hello"), &head, 5)
	require.Error(t, err)
}

func TestBufferWriteAtAndReadFrom(t *testing.T) {
	b, err := NewBuffer(512, 512)
	require.NoError(t, err)

	require.NoError(t, b.WriteAt([]byte("payload"), 10, 7))

	out := make([]byte, 7)
	require.NoError(t, b.ReadFrom(out, 10, 7))
	require.Equal(t, []byte("payload"), out)
}

func TestBufferWriteAtRejectsOutOfBounds(t *testing.T) {
	b, err := NewBuffer(512, 512)
	require.NoError(t, err)

	err = b.WriteAt([]byte("x"), 511, 2)
	require.Error(t, err)
}

func TestBufferReallocGrowsAndPreservesContents(t *testing.T) {
	b, err := NewBuffer(512, 512)
	require.NoError(t, err)
	require.NoError(t, b.WriteAt([]byte("keepme"), 0, 6))

	require.NoError(t, b.Realloc(1000))
	require.Equal(t, 1024, b.Len())

	out := make([]byte, 6)
	require.NoError(t, b.ReadFrom(out, 0, 6))
	require.Equal(t, []byte("keepme"), out)
}

func TestBufferReallocNeverShrinks(t *testing.T) {
	b, err := NewBuffer(512, 1024)
	require.NoError(t, err)
	require.NoError(t, b.Realloc(10))
	require.Equal(t, 1024, b.Len())
}

func TestBufferFreeIsIdempotentAndBlocksUse(t *testing.T) {
	b, err := NewBuffer(512, 512)
	require.NoError(t, err)
	b.Free()
	b.Free()

	var head uint32
	err = b.AppendAt([]byte("x"), &head, 1)
	require.Error(t, err)
}
