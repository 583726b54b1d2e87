package safe

import (
	"testing"
	"time"

	"PPRoom/logger"
	"PPRoom/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGo_RecoversPanic(t *testing.T) {
	defer logger.Replace(zap.NewNop())()

	got := make(chan error, 1)
	Go("boom", func() { panic("kaput") }, func(err error) { got <- err })

	select {
	case err := <-got:
		ce, ok := errs.CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, errs.ServerInternalError, ce.Code)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestGo_RunsFunc(t *testing.T) {
	done := make(chan struct{})
	Go("ok", func() { close(done) }, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("func did not run")
	}
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(3, "int") })
	assert.NotPanics(t, func() { MustNotNil(&struct{}{}, "ptr") })
}
