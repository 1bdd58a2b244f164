package mock

import (
	"context"
	"sync"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock message publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []*domain.Submission
	PublishFn func(ctx context.Context, sub *domain.Submission) error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, sub *domain.Submission) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, sub)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, sub)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}
