package systems

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	require.NoError(t, err)

	done := make(chan interface{}, 1)
	failed := make(chan error, 1)
	require.NoError(t, js.Submit(metadata.JobTask{
		ID:         uuid.New(),
		Name:       "ok",
		OnStart:    func() (interface{}, error) { return 42, nil },
		OnComplete: func(r interface{}) { done <- r },
	}))
	boom := errors.New("boom")
	require.NoError(t, js.Submit(metadata.JobTask{
		ID:        uuid.New(),
		Name:      "fail",
		OnStart:   func() (interface{}, error) { return nil, boom },
		OnFailure: func(err error) { failed <- err },
	}))

	select {
	case r := <-done:
		assert.Equal(t, 42, r)
	case <-time.After(time.Second):
		t.Fatal("job did not complete")
	}
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("job did not fail")
	}

	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	err = js.Submit(metadata.JobTask{OnStart: func() (interface{}, error) { return nil, nil }})
	assert.ErrorIs(t, err, core.ErrShutdown)
}

func TestJobSystemRejectsBadConfig(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}
