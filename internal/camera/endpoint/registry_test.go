// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package endpoint

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOrGetIsInsertIfAbsent(t *testing.T) {
	r := NewRegistry("cam")
	var calls atomic.Int32
	factory := func(id string) *Endpoint {
		calls.Add(1)
		return NewBool(id, true)
	}

	var wg sync.WaitGroup
	results := make([]*Endpoint, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.AddOrGet("switch", factory)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, e := range results {
		assert.Same(t, results[0], e)
	}
}

func TestExternalWriteToReadOnlyIsRejected(t *testing.T) {
	r := NewRegistry("cam")
	r.AddOrGet(LastSeen, func(id string) *Endpoint { return NewNumber(id, false).WithInitial(42) })

	changed, err := r.Write(context.Background(), LastSeen, 99, true)
	require.ErrorIs(t, err, ErrReadOnly)
	assert.False(t, changed)

	e, _ := r.Get(LastSeen)
	assert.Equal(t, 42.0, e.Float())

	changed, err = r.Write(context.Background(), LastSeen, 99, false)
	require.NoError(t, err)
	assert.True(t, changed, "internal writes bypass the writable flag")
}

func TestWriteNotifiesOnlyOnChange(t *testing.T) {
	r := NewRegistry("cam")
	var handled []any
	r.AddOrGet(MotionThreshold, func(id string) *Endpoint {
		return NewSlider(id, 0, 50, true).WithHandler(func(_ context.Context, v any) error {
			handled = append(handled, v)
			return nil
		})
	})
	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	ctx := context.Background()
	changed, err := r.Write(ctx, MotionThreshold, 10, true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.Write(ctx, MotionThreshold, 10.0, true)
	require.NoError(t, err)
	assert.False(t, changed)

	want := []Change{{DeviceID: "cam", ID: MotionThreshold, Old: 0.0, New: 10.0, External: true}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []any{10.0}, handled)
}

func TestWriteValidation(t *testing.T) {
	r := NewRegistry("cam")
	r.AddOrGet(AudioThreshold, func(id string) *Endpoint { return NewSlider(id, 0, 50, true) })
	r.AddOrGet(DeviceStatus, func(id string) *Endpoint {
		return NewSelect(id, []string{"ONLINE", "OFFLINE"}, false)
	})
	r.AddOrGet(MotionAlarm, func(id string) *Endpoint { return NewBool(id, false) })

	ctx := context.Background()
	_, err := r.Write(ctx, AudioThreshold, 51, true)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = r.Write(ctx, AudioThreshold, "abc", true)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = r.Write(ctx, DeviceStatus, "BROKEN", false)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = r.Write(ctx, MotionAlarm, "true", false)
	assert.NoError(t, err)
	_, err = r.Write(ctx, "missing", 1, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTriggersAlwaysFire(t *testing.T) {
	r := NewRegistry("cam")
	var fired atomic.Int32
	r.AddOrGet(PTZHome, func(id string) *Endpoint {
		return NewTrigger(id).WithHandler(func(context.Context, any) error {
			fired.Add(1)
			return nil
		})
	})

	for i := 0; i < 3; i++ {
		changed, err := r.Write(context.Background(), PTZHome, nil, true)
		require.NoError(t, err)
		assert.True(t, changed)
	}
	assert.Equal(t, int32(3), fired.Load())
}

func TestHandlerErrorIsReturnedButValueKept(t *testing.T) {
	r := NewRegistry("cam")
	r.AddOrGet(Zoom, func(id string) *Endpoint {
		return NewSlider(id, -1, 1, true).WithHandler(func(context.Context, any) error {
			return errors.New("camera refused")
		})
	})

	changed, err := r.Write(context.Background(), Zoom, 0.5, true)
	assert.True(t, changed)
	require.Error(t, err)
	e, _ := r.Get(Zoom)
	assert.Equal(t, 0.5, e.Float())
}

func TestViewsAndClear(t *testing.T) {
	r := NewRegistry("cam")
	r.AddOrGet("b", func(id string) *Endpoint { return NewString(id, true) })
	r.AddOrGet("a", func(id string) *Endpoint { return NewSlider(id, 0, 5, false) })

	views := r.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].ID)
	require.NotNil(t, views[0].Max)
	assert.Equal(t, 5.0, *views[0].Max)
	assert.Nil(t, views[1].Min)

	r.Clear()
	assert.Equal(t, 0, r.Len())
}
