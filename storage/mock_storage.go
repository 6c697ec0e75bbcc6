package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Template), args.Error(1)
}

func (m *MockStore) ListTemplates(ctx context.Context, organizationID string) ([]Template, error) {
	args := m.Called(ctx, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Template), args.Error(1)
}

func (m *MockStore) PutTemplate(ctx context.Context, t *Template) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockStore) GetRecurrenceRule(ctx context.Context, baseRecurringEventID string) (*RecurrenceRule, error) {
	args := m.Called(ctx, baseRecurringEventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RecurrenceRule), args.Error(1)
}

func (m *MockStore) PutRecurrenceRule(ctx context.Context, r *RecurrenceRule) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockStore) ListExceptions(ctx context.Context, recurringEventID string) ([]Exception, error) {
	args := m.Called(ctx, recurringEventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Exception), args.Error(1)
}

func (m *MockStore) PutException(ctx context.Context, e *Exception) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockStore) ListInstanceStarts(ctx context.Context, baseRecurringEventID string, from, to time.Time) ([]time.Time, error) {
	args := m.Called(ctx, baseRecurringEventID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockStore) InsertInstances(ctx context.Context, instances []Instance) (int, error) {
	args := m.Called(ctx, instances)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]Instance, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Instance), args.Error(1)
}

func (m *MockStore) CountInstances(ctx context.Context, organizationID string) (int, error) {
	args := m.Called(ctx, organizationID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CountInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int, error) {
	args := m.Called(ctx, organizationID, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) DeleteInstancesEndingBefore(ctx context.Context, organizationID string, cutoff time.Time) (int, error) {
	args := m.Called(ctx, organizationID, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) GetWindow(ctx context.Context, organizationID string) (*Window, error) {
	args := m.Called(ctx, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Window), args.Error(1)
}

func (m *MockStore) ListWindows(ctx context.Context) ([]Window, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Window), args.Error(1)
}

func (m *MockStore) InsertWindow(ctx context.Context, w *Window) (*Window, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Window), args.Error(1)
}

func (m *MockStore) UpdateWindow(ctx context.Context, w *Window) error {
	return m.Called(ctx, w).Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}
