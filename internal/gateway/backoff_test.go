package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		n, ceiling, want int
	}{
		{1, 10, 1},
		{2, 10, 3},
		{3, 10, 7},
		{4, 10, 10},
		{5, 10, 10},
		{3, 5, 5},
		{0, 10, 1},
		{-4, 10, 1},
		{1, 0, 0},
		{2, -1, 0},
		{63, 10, 10},
		{200, 1 << 40, 1 << 40},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.n, tc.ceiling), "Backoff(%d, %d)", tc.n, tc.ceiling)
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := 0
	for n := 1; n < 80; n++ {
		d := Backoff(n, 600)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 600)
		prev = d
	}
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, 7*time.Second, BackoffDuration(3, DefaultBackoffCeiling))
}
