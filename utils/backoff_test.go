package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func TestWithRetriesTimeout(t *testing.T) {
	t.Run("NotEnoughTime", func(t *testing.T) {
		retryable := newMockRetryableFn(50)
		err := WithRetriesTimeout(
			log.NewNoOpLogger(),
			func() (err error) {
				_, err = retryable.Run()
				return err
			},
			200*time.Millisecond,
		)
		require.Error(t, err)
	})
	t.Run("EnoughTime", func(t *testing.T) {
		retryable := newMockRetryableFn(2)
		var res bool
		err := WithRetriesTimeout(
			log.NewNoOpLogger(),
			func() (err error) {
				res, err = retryable.Run()
				return err
			},
			5000*time.Millisecond,
		)
		require.NoError(t, err)
		require.True(t, res)
	})
}

type mockRetryableFn struct {
	counter uint64
	trigger uint64
}

func newMockRetryableFn(trigger uint64) mockRetryableFn {
	return mockRetryableFn{
		counter: 0,
		trigger: trigger,
	}
}

func (m *mockRetryableFn) Run() (bool, error) {
	if m.counter >= m.trigger {
		return true, nil
	}
	m.counter++
	return false, errors.New("error")
}
