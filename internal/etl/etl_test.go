package etl

import (
	"context"
	"errors"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/client"
	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessBatches_AllSucceed_IsCompleted(t *testing.T) {
	e, _ := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	result, err := processBatches(context.Background(), e, "PROJ", controlplane.EntityTestCase, []int{1, 2, 3}, false, func(context.Context, int) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)
	assert.Equal(t, 3, result.ProcessedItems)
	assert.Equal(t, 0, result.FailedItems)
}

func TestProcessBatches_SomeFail_IsPartial(t *testing.T) {
	e, _ := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	result, err := processBatches(context.Background(), e, "PROJ", controlplane.EntityTestCase, []int{1, 2, 3, 4}, false, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusPartial, result.Status)
	assert.Equal(t, 2, result.ProcessedItems)
	assert.Equal(t, 2, result.FailedItems)
}

func TestProcessBatches_AllFail_IsFailed(t *testing.T) {
	e, _ := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	result, err := processBatches(context.Background(), e, "PROJ", controlplane.EntityTestCase, []int{1, 2}, false, func(context.Context, int) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusFailed, result.Status)
}

func TestProcessBatches_EmptyItems_IsCompleted(t *testing.T) {
	e, _ := newTestExecutor(t, client.NewFakeSource(), client.NewFakeTarget())
	result, err := processBatches[int](context.Background(), e, "PROJ", controlplane.EntityTestCase, nil, false, func(context.Context, int) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusCompleted, result.Status)
	assert.Equal(t, 0, result.TotalItems)
}

func TestSkippedError_IsDistinguishableFromOrdinaryError(t *testing.T) {
	var se skippedError
	err := skip("skipping %s", "ex1")
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "skipping ex1", err.Error())

	var se2 skippedError
	assert.False(t, errors.As(errors.New("plain"), &se2))
}
