package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/cyp0633/libhorizon/storage/memory"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	inst, tpl := fixture()
	tpl.IsRecurringTemplate = true
	require.NoError(t, store.PutTemplate(ctx, &tpl))

	second := inst
	second.ID = "inst-2"
	second.OriginalInstanceStartTime = start.AddDate(0, 0, 7)
	second.ActualStartTime = second.OriginalInstanceStartTime
	second.ActualEndTime = second.ActualStartTime.Add(time.Hour)
	second.SequenceNumber = 4
	orphan := inst
	orphan.ID = "inst-3"
	orphan.BaseRecurringEventID = "deleted-series"
	_, err := store.InsertInstances(ctx, []storage.Instance{inst, second, orphan})
	require.NoError(t, err)

	require.NoError(t, store.PutException(ctx, &storage.Exception{
		ID:                "exc-1",
		RecurringEventID:  "series-1",
		OrganizationID:    "org-1",
		InstanceStartTime: second.OriginalInstanceStartTime,
		Overrides:         storage.ExceptionOverrides{Location: mo.Some("Hall B")},
	}))

	got, err := List(ctx, store, storage.InstanceFilter{OrganizationID: "org-1"}, logx.Nop())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "inst-1", got[0].ID)
	assert.Equal(t, tpl.Location, got[0].Location)
	assert.Equal(t, "inst-2", got[1].ID)
	assert.Equal(t, "Hall B", got[1].Location)
	assert.True(t, got[1].HasExceptions)
}

func TestList_StorageErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	inst, tpl := fixture()

	t.Run("instances", func(t *testing.T) {
		store := new(storage.MockStore)
		store.On("ListInstances", mock.Anything, mock.Anything).Return(nil, boom)
		_, err := List(ctx, store, storage.InstanceFilter{}, logx.Logger{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("template", func(t *testing.T) {
		store := new(storage.MockStore)
		store.On("ListInstances", mock.Anything, mock.Anything).Return([]storage.Instance{inst}, nil)
		store.On("GetTemplate", mock.Anything, "series-1").Return(nil, boom)
		_, err := List(ctx, store, storage.InstanceFilter{}, logx.Nop())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("exceptions", func(t *testing.T) {
		store := new(storage.MockStore)
		store.On("ListInstances", mock.Anything, mock.Anything).Return([]storage.Instance{inst}, nil)
		store.On("GetTemplate", mock.Anything, "series-1").Return(&tpl, nil)
		store.On("ListExceptions", mock.Anything, "series-1").Return(nil, boom)
		_, err := List(ctx, store, storage.InstanceFilter{}, logx.Nop())
		assert.ErrorIs(t, err, boom)
	})
}
