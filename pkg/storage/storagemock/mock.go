package storagemock

import (
	"context"

	"github.com/solarproa/powersim/pkg/storage"
	"github.com/solarproa/powersim/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) SaveRun(ctx context.Context, run types.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDatabase) GetRun(ctx context.Context, id string) (types.Run, error) {
	args := m.Called(ctx, id)
	if len(args) > 0 {
		return args.Get(0).(types.Run), args.Error(1)
	}
	return types.Run{}, storage.ErrRunNotFound
}

func (m *MockDatabase) ListRuns(ctx context.Context, kind string, limit int) ([]types.Run, error) {
	args := m.Called(ctx, kind, limit)
	if len(args) > 0 {
		return args.Get(0).([]types.Run), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	if len(args) > 0 {
		return args.Error(0)
	}
	return nil
}
