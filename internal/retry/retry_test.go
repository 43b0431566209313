package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type connectError struct{}

func (connectError) Error() string { return "connect error" }

func TestShouldRetry_ClassificationSequence(t *testing.T) {
	p := Default().WithClassifier(func(err error) bool {
		var ce connectError
		return errors.As(err, &ce)
	})
	err := connectError{}

	assert.True(t, p.ShouldRetry(0, err, 0))
	assert.True(t, p.ShouldRetry(1, err, 0))
	assert.True(t, p.ShouldRetry(2, err, 0))
	assert.False(t, p.ShouldRetry(3, err, 0))
}

func TestDelay_ExponentialBackoff(t *testing.T) {
	p := Default()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
}

func TestShouldRetry_StatusCode(t *testing.T) {
	p := Default()
	assert.True(t, p.ShouldRetry(0, nil, 503))
	assert.False(t, p.ShouldRetry(0, nil, 404))
}
