package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	submitErr   error
	states      []string
	stateErr    error
	downloadErr error

	submits  int
	polls    int
	download int
}

func (f *fakeBackend) Submit(_ context.Context, _ Request) (string, error) {
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "uuid-1", nil
}

func (f *fakeBackend) State(_ context.Context, _ string) (string, error) {
	f.polls++
	if f.stateErr != nil {
		return "", f.stateErr
	}
	if f.polls <= len(f.states) {
		return f.states[f.polls-1], nil
	}
	return "IN_PROGRESS", nil
}

func (f *fakeBackend) Download(_ context.Context, _ string) ([]byte, error) {
	f.download++
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte(`{"rows":[]}`), nil
}

func TestPollerFetch(t *testing.T) {
	backend := &fakeBackend{states: []string{"NOT_STARTED", "IN_PROGRESS", StateOK}}
	p := NewPoller(backend, time.Millisecond, 5, zap.NewNop())

	data, err := p.Fetch(context.Background(), Request{Path: "/report"})
	require.NoError(t, err)
	assert.Equal(t, `{"rows":[]}`, string(data))
	assert.Equal(t, 1, backend.submits)
	assert.Equal(t, 3, backend.polls)
	assert.Equal(t, 1, backend.download)
}

func TestPollerErrors(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		p := NewPoller(&fakeBackend{submitErr: errors.New("400")}, time.Millisecond, 3, zap.NewNop())
		_, err := p.Fetch(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrSubmitFailed)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("timeout", func(t *testing.T) {
		backend := &fakeBackend{}
		p := NewPoller(backend, time.Millisecond, 3, zap.NewNop())
		_, err := p.Fetch(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 3, backend.polls)
		assert.Zero(t, backend.download)
	})

	t.Run("state errors use attempts", func(t *testing.T) {
		backend := &fakeBackend{stateErr: errors.New("502")}
		p := NewPoller(backend, time.Millisecond, 2, zap.NewNop())
		_, err := p.Fetch(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 2, backend.polls)
	})

	t.Run("rejected", func(t *testing.T) {
		p := NewPoller(&fakeBackend{states: []string{StateError}}, time.Millisecond, 3, zap.NewNop())
		_, err := p.Fetch(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrSubmitFailed)
	})

	t.Run("download", func(t *testing.T) {
		backend := &fakeBackend{states: []string{StateOK}, downloadErr: errors.New("reset")}
		p := NewPoller(backend, time.Millisecond, 3, zap.NewNop())
		_, err := p.Fetch(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrDownloadFailed)
	})

	t.Run("context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := NewPoller(&fakeBackend{}, time.Hour, 3, zap.NewNop())
		_, err := p.Fetch(ctx, Request{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPollerNoDedup(t *testing.T) {
	backend := &fakeBackend{states: []string{StateOK, StateOK}}
	p := NewPoller(backend, time.Millisecond, 3, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := p.Fetch(context.Background(), Request{Path: "/same"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, backend.submits)
}
