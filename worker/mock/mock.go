// Package mock provides a testify mock of the worker control protocol for
// coordinator-side tests.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"cs426.yale.edu/hetr/worker"
)

type MockWorkerClient struct {
	mock.Mock
}

func (m *MockWorkerClient) IsBuilt(ctx context.Context, in *worker.IsBuiltRequest) (*worker.IsBuiltResponse, error) {
	args := m.Called(ctx, in)
	if res := args.Get(0); res != nil {
		return res.(*worker.IsBuiltResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkerClient) Build(ctx context.Context, in *worker.BuildRequest) (*worker.BuildResponse, error) {
	args := m.Called(ctx, in)
	if res := args.Get(0); res != nil {
		return res.(*worker.BuildResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkerClient) Execute(ctx context.Context, in *worker.ExecuteRequest) (*worker.ExecuteResponse, error) {
	args := m.Called(ctx, in)
	if res := args.Get(0); res != nil {
		return res.(*worker.ExecuteResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkerClient) Close(ctx context.Context, in *worker.CloseRequest) (*worker.CloseResponse, error) {
	args := m.Called(ctx, in)
	if res := args.Get(0); res != nil {
		return res.(*worker.CloseResponse), args.Error(1)
	}
	return nil, args.Error(1)
}
