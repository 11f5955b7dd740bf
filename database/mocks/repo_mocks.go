/*
Copyright 2024 Rosync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/tevinmoore/rosync/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Record methods

func (m *MockDataSource) CreateRecord(ctx context.Context, record *model.Record) (*model.Record, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockDataSource) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockDataSource) GetRecordByRONumber(ctx context.Context, roNumber int64) (*model.Record, error) {
	args := m.Called(ctx, roNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *MockDataSource) UpdateRecord(ctx context.Context, record *model.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDataSource) UpdateRecordStatus(ctx context.Context, id string, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) UpdateRecordMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	args := m.Called(ctx, id, metadata)
	return args.Error(0)
}

func (m *MockDataSource) GetRecordsByStatus(ctx context.Context, statuses []string, limit, offset int) ([]*model.Record, error) {
	args := m.Called(ctx, statuses, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Record), args.Error(1)
}

func (m *MockDataSource) GetRecordsDueForUpdate(ctx context.Context, asOf time.Time) ([]*model.Record, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Record), args.Error(1)
}

// Notification methods

func (m *MockDataSource) CreateNotification(ctx context.Context, notification *model.Notification) (*model.Notification, error) {
	args := m.Called(ctx, notification)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

func (m *MockDataSource) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

func (m *MockDataSource) GetPendingNotificationForRecord(ctx context.Context, recordID string) (*model.Notification, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

func (m *MockDataSource) GetStaleApprovedNotifications(ctx context.Context, olderThan time.Time) ([]*model.Notification, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Notification), args.Error(1)
}

func (m *MockDataSource) UpdateNotificationStatus(ctx context.Context, id string, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) MarkNotificationSent(ctx context.Context, id string, messageID, conversationID string) error {
	args := m.Called(ctx, id, messageID, conversationID)
	return args.Error(0)
}

func (m *MockDataSource) GetLastSentNotificationForRecord(ctx context.Context, recordID string) (*model.Notification, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}
