package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoCarriesName(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "reader", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "reader", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoNilParent(t *testing.T) {
	done := make(chan struct{})
	//nolint:staticcheck // nil parent is part of the contract
	Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
		close(done)
	})
	<-done
}

func TestGoSafeRecoversPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	done := make(chan struct{})

	GoSafe(context.Background(), "boom", logger, func(context.Context) {
		panic("kaboom")
	}, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done callback not invoked")
	}

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "boom", entry.Data["goroutine"])
	assert.Equal(t, "kaboom", entry.Data["panic"])
}

func TestGetNameWithoutLabel(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, GetName(nil))
}

func TestGetGID(t *testing.T) {
	own := GetGID()
	require.NotZero(t, own)
	assert.Equal(t, own, GetGID())

	other := make(chan uint64, 1)
	Go(context.Background(), "gid", func(context.Context) {
		other <- GetGID()
	})
	select {
	case gid := <-other:
		assert.NotZero(t, gid)
		assert.NotEqual(t, own, gid)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
