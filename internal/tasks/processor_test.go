package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"certportal/internal/service"
)

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) SweepExpired(context.Context) (service.SweepReport, error) {
	f.calls++
	return service.SweepReport{Removed: 2}, f.err
}

func TestProcessorDispatch(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]interface{}
		sweepErr error
		calls    int
		wantErr  bool
	}{
		{name: "cleanup", values: map[string]interface{}{"type": TypeCleanupExpired}, calls: 1},
		{name: "cleanup failure", values: map[string]interface{}{"type": TypeCleanupExpired}, sweepErr: errors.New("store down"), calls: 1, wantErr: true},
		{name: "unknown type is dropped", values: map[string]interface{}{"type": "thumbnail"}},
		{name: "missing type", values: map[string]interface{}{}},
		{name: "undecodable payload is dropped", values: map[string]interface{}{"type": 42, "requestedAt": []int{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sweeper := &fakeSweeper{err: tt.sweepErr}
			p := NewProcessor(sweeper, zerolog.Nop())

			err := p.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: tt.values})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.calls, sweeper.calls)
		})
	}
}
