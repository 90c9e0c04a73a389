package server_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/epochflow/epochflow/server"
	ktoml "github.com/epochflow/epochflow/toml"
	"github.com/stretchr/testify/assert"
)

var errRetry = errors.New("retry me")

type supervisorDiag struct {
	relaunches []int
	gaveUp     int
}

func (d *supervisorDiag) Relaunching(launch int, delay time.Duration, err error) {
	d.relaunches = append(d.relaunches, launch)
}
func (d *supervisorDiag) GaveUp(launches int, err error) { d.gaveUp = launches }

func newTestSupervisor(max int, d *supervisorDiag) *server.Supervisor {
	c := server.SupervisorConfig{
		MaxRelaunches:   max,
		InitialInterval: ktoml.Duration(time.Millisecond),
		MaxInterval:     ktoml.Duration(2 * time.Millisecond),
	}
	return server.NewSupervisor(c, func(err error) bool { return err == errRetry }, d)
}

func TestSupervisor_RelaunchesUntilSuccess(t *testing.T) {
	d := new(supervisorDiag)
	s := newTestSupervisor(5, d)
	calls := 0
	err := s.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errRetry
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{2, 3}, d.relaunches)
	assert.Equal(t, 0, d.gaveUp)
}

func TestSupervisor_StopsOnFatalError(t *testing.T) {
	d := new(supervisorDiag)
	s := newTestSupervisor(5, d)
	fatal := errors.New("fatal")
	calls := 0
	err := s.Run(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, d.relaunches)
}

func TestSupervisor_GivesUp(t *testing.T) {
	d := new(supervisorDiag)
	s := newTestSupervisor(2, d)
	calls := 0
	err := s.Run(context.Background(), func(context.Context) error {
		calls++
		return errRetry
	})
	assert.Equal(t, errRetry, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, d.gaveUp)
}

func TestSupervisor_Canceled(t *testing.T) {
	d := new(supervisorDiag)
	c := server.SupervisorConfig{
		InitialInterval: ktoml.Duration(time.Hour),
		MaxInterval:     ktoml.Duration(time.Hour),
	}
	s := server.NewSupervisor(c, func(error) bool { return true }, d)
	ctx, cancel := context.WithCancel(context.Background())
	err := s.Run(ctx, func(context.Context) error {
		cancel()
		return errRetry
	})
	assert.Equal(t, context.Canceled, err)
}
