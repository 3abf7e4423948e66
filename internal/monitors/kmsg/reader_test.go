package kmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_ValidRecord(t *testing.T) {
	entry, err := ParseLine("2,1234,98765432,-;nvidia: Xid error on GPU 0\n")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Level)
	assert.Equal(t, uint64(1234), entry.Sequence)
	assert.Equal(t, uint64(98765432), entry.UsecSinceBoot)
	assert.Equal(t, "nvidia: Xid error on GPU 0", entry.Message)
}

func TestParseLine_MalformedRecordReturnsError(t *testing.T) {
	_, err := ParseLine("not a kmsg line")
	assert.Error(t, err)

	_, err = ParseLine("x,1,2;msg")
	assert.Error(t, err)
}

func TestEntry_WallTimeAddsUsecToBoot(t *testing.T) {
	boot := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{UsecSinceBoot: 5_000_000}
	assert.Equal(t, boot.Add(5*time.Second), e.WallTime(boot))
}
