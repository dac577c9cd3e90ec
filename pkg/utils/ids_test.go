package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMacAddressPid(t *testing.T) {
	hash := HashMacAddressPid("02:42:ac:11:00:02")
	assert.Len(t, hash, 3)

	// stable for the same input within a process
	assert.Equal(t, hash, HashMacAddressPid("02:42:ac:11:00:02"))
}

func TestGenUniqueIDPositive(t *testing.T) {
	timestamp := time.Now().UnixMilli() - CUSTOM_EPOCH
	id, err := GenUniqueID("7af", timestamp, 1)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
}

func TestGenUniqueIDMonotonicWithinMachine(t *testing.T) {
	timestamp := time.Now().UnixMilli() - CUSTOM_EPOCH
	first, err := GenUniqueID("100", timestamp, 1)
	require.NoError(t, err)
	second, err := GenUniqueID("100", timestamp, 2)
	require.NoError(t, err)
	third, err := GenUniqueID("100", timestamp+1, 0)
	require.NoError(t, err)

	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestGenUniqueIDCounterPadding(t *testing.T) {
	id1, err := GenUniqueID("100", 1, 1)
	require.NoError(t, err)
	id2, err := GenUniqueID("100", 1, 0xfff)
	require.NoError(t, err)
	assert.Equal(t, id2-id1, int64(0xfff-1))
}

func TestGenUniqueIDRejectsBadMachineID(t *testing.T) {
	_, err := GenUniqueID("xyz", 1, 1)
	assert.Error(t, err)
}
