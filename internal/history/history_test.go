package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWithoutDSNReturnsNopRecorder(t *testing.T) {
	rec, err := New("")
	require.NoError(t, err)

	err = rec.Record(Record{
		SessionID: "abc",
		Mode:      "netplay",
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, rec.Close())
}
