package streambuf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendBytes(t *testing.T, b *Buffer, data []byte) int {
	t.Helper()
	dst := b.PrepareAppend(len(data))
	n := copy(dst, data)
	require.NoError(t, b.CommitAppend(n))
	return n
}

func TestAppendConsumeRoundTrip(t *testing.T) {
	b := New(32)
	n := appendBytes(t, b, []byte("hello"))
	require.Equal(t, 5, n)
	require.Equal(t, []byte("hello"), b.Peek())
	require.NoError(t, b.Consume(5))
	require.Equal(t, 0, b.Len())
}

func TestInvariantHolds(t *testing.T) {
	b := New(16)
	rng := rand.New(rand.NewSource(7))
	var shadow []byte
	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			n := rng.Intn(5)
			chunk := make([]byte, n)
			for j := range chunk {
				chunk[j] = byte('a' + j%26)
			}
			written := appendBytes(t, b, chunk)
			shadow = append(shadow, chunk[:written]...)
		} else if b.Len() > 0 {
			n := rng.Intn(b.Len() + 1)
			require.NoError(t, b.Consume(n))
			shadow = shadow[n:]
		}
		require.Equal(t, shadow, b.Peek())
	}
}

func TestCompactionPreservesBytesAndResetsReadIdx(t *testing.T) {
	b := New(16)
	appendBytes(t, b, []byte("0123456789")) // 10 bytes, write=10
	require.NoError(t, b.Consume(9))        // read=9, write=10 -- read > cap/2 (8)

	before := append([]byte(nil), b.Peek()...)

	// Free space at tail is 6, but we ask for 8 to force compaction.
	dst := b.PrepareAppend(8)
	require.True(t, len(dst) > 0, "compaction should have freed tail space")
	require.Equal(t, 0, b.readIdx)
	require.Equal(t, before, b.Peek())
}

func TestDrainedBufferResetsToZero(t *testing.T) {
	b := New(8)
	appendBytes(t, b, []byte("ab"))
	require.NoError(t, b.Consume(2))
	// PrepareAppend triggers the readIdx==writeIdx fast reset path.
	b.PrepareAppend(1)
	require.Equal(t, 0, b.readIdx)
	require.Equal(t, 0, b.writeIdx)
}

func TestResetClearsIndices(t *testing.T) {
	b := New(8)
	appendBytes(t, b, []byte("abcd"))
	b.Reset()
	require.Equal(t, 0, b.Len())
	require.Equal(t, 0, b.readIdx)
	require.Equal(t, 0, b.writeIdx)
}

func TestCommitAppendOverflowRejected(t *testing.T) {
	b := New(4)
	dst := b.PrepareAppend(4)
	require.Len(t, dst, 4)
	require.Error(t, b.CommitAppend(5))
}

func TestConsumeBeyondUnreadRejected(t *testing.T) {
	b := New(4)
	appendBytes(t, b, []byte("ab"))
	require.Error(t, b.Consume(3))
}
