package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicyDoublesUpToMax(t *testing.T) {
	p := newReconnectPolicy(time.Second, 8*time.Second, 0)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		d, attempt, ok := p.next()
		assert.True(t, ok)
		assert.Equal(t, i+1, attempt)
		assert.Equal(t, w, d, "attempt %d", i+1)
	}
}

func TestReconnectPolicyResetsAfterSuccess(t *testing.T) {
	p := newReconnectPolicy(time.Second, time.Minute, 0)
	p.next()
	p.next()
	p.next()

	p.reset()
	d, attempt, ok := p.next()
	assert.True(t, ok)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, time.Second, d)
}

func TestReconnectPolicyIsBounded(t *testing.T) {
	p := newReconnectPolicy(time.Millisecond, time.Second, 3)
	for i := 0; i < 3; i++ {
		_, _, ok := p.next()
		assert.True(t, ok)
	}
	_, attempt, ok := p.next()
	assert.False(t, ok)
	assert.Equal(t, 3, attempt)
}
