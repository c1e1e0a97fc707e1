package wait_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/blackjack-run/blackjack/pkg/bucket"
	"github.com/blackjack-run/blackjack/pkg/expr"
	"github.com/blackjack-run/blackjack/pkg/wait"
)

func sizeExpr(n uint64) expr.Expr { return expr.Expr{Size: &n} }

func pod(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": name},
	}}
}

func TestWaitSucceedsImmediatelyWhenAlreadySatisfied(t *testing.T) {
	b := bucket.New()
	b.ApplyEvent(bucket.OpCreate, pod("a"))
	res, err := wait.Run(context.Background(), b, sizeExpr(1), 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestWaitSucceedsAfterPolling(t *testing.T) {
	b := bucket.New()
	go func() {
		time.Sleep(50 * time.Millisecond)
		b.ApplyEvent(bucket.OpCreate, pod("a"))
	}()
	res, err := wait.Run(context.Background(), b, sizeExpr(1), 2, 1)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestWaitTimesOut(t *testing.T) {
	b := bucket.New()
	start := time.Now()
	res, err := wait.Run(context.Background(), b, sizeExpr(1), 0.3, 1)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.NotEmpty(t, res.Diagnostic)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestWaitScaleZeroFailsImmediately(t *testing.T) {
	b := bucket.New()
	b.ApplyEvent(bucket.OpCreate, pod("a"))
	start := time.Now()
	res, err := wait.Run(context.Background(), b, sizeExpr(1), 30, 0)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitZeroTimeoutEvaluatesOnce(t *testing.T) {
	b := bucket.New()
	res, err := wait.Run(context.Background(), b, sizeExpr(0), 0, 1)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)

	b.ApplyEvent(bucket.OpCreate, pod("a"))
	res, err = wait.Run(context.Background(), b, sizeExpr(0), 0, 1)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
}
