package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlidingStore_RateIsZeroWithFewerThanTwoSamples(t *testing.T) {
	s := NewSlidingStore(3)
	assert.Equal(t, 0.0, s.Rate("eth0"))
	s.Put("eth0", 5)
	assert.Equal(t, 0.0, s.Rate("eth0"))
}

func TestSlidingStore_RateIsLastMinusFirst(t *testing.T) {
	s := NewSlidingStore(3)
	s.Put("eth0", 1)
	s.Put("eth0", 2)
	s.Put("eth0", 4)
	assert.Equal(t, 3.0, s.Rate("eth0"))
}

func TestSlidingStore_DropsOldestBeyondWindow(t *testing.T) {
	s := NewSlidingStore(2)
	s.Put("eth0", 1)
	s.Put("eth0", 2)
	s.Put("eth0", 10)
	// window=2: only the last two samples (2, 10) are retained.
	assert.Equal(t, 8.0, s.Rate("eth0"))
}

func TestSlidingStore_KeysAreIndependent(t *testing.T) {
	s := NewSlidingStore(3)
	s.Put("eth0", 1)
	s.Put("eth0", 5)
	s.Put("eth1", 100)
	s.Put("eth1", 100)
	assert.Equal(t, 4.0, s.Rate("eth0"))
	assert.Equal(t, 0.0, s.Rate("eth1"))
}
