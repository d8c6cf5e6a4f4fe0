package audit

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsHashes(t *testing.T) {
	logger := NewChainLogger()

	first := logger.Append("deposit acct_1 100.00")
	second := logger.Append("withdrawal acct_1 40.00")

	assert.Equal(t, strings.Repeat("0", 64), first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.Len(t, first.Hash, 64)
	assert.True(t, logger.Verify())
}

func TestVerifyDetectsTampering(t *testing.T) {
	logger := NewChainLogger()
	logger.Append("one")
	logger.Append("two")
	logger.Append("three")

	entries := logger.Entries()
	require.True(t, VerifyChain(entries))

	tampered := make([]LogEntry, len(entries))
	copy(tampered, entries)
	tampered[1].Payload = "2"
	assert.False(t, VerifyChain(tampered))

	// Dropping an entry from the middle also breaks the chain.
	assert.False(t, VerifyChain([]LogEntry{entries[0], entries[2]}))
}

func TestEntriesReturnsCopy(t *testing.T) {
	logger := NewChainLogger()
	logger.Append("one")

	entries := logger.Entries()
	entries[0].Payload = "mutated"

	assert.True(t, logger.Verify())
}

func TestEmptyChainIsValid(t *testing.T) {
	assert.True(t, VerifyChain(nil))
	assert.True(t, NewChainLogger().Verify())
}

func TestConcurrentAppends(t *testing.T) {
	logger := NewChainLogger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Append("payload")
		}()
	}
	wg.Wait()

	assert.Len(t, logger.Entries(), 50)
	assert.True(t, logger.Verify())
}
