package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/db"
	mock_database "gitlab.com/parcelmkt/fulfillment/internal/db/mocks"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type statusUpdate struct {
	id     uuid.UUID
	status repository.TaskStatus
	inTx   bool
}

type fakeTaskRepo struct {
	tasks   []*repository.NotificationTask
	updates []statusUpdate
}

func (f *fakeTaskRepo) GetProcessableTasks(ctx context.Context, tx db.Tx, limit int) ([]*repository.NotificationTask, error) {
	out := f.tasks
	f.tasks = nil
	return out, nil
}

func (f *fakeTaskRepo) UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	f.updates = append(f.updates, statusUpdate{id: id, status: status, inTx: true})
	return nil
}

func (f *fakeTaskRepo) UpdateTaskStatus(ctx context.Context, database db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	f.updates = append(f.updates, statusUpdate{id: id, status: status})
	return nil
}

type recordingProducer struct {
	sent []string
	err  error
}

func (r *recordingProducer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	r.sent = append(r.sent, string(key))
	return r.err
}

func (r *recordingProducer) Close() error { return nil }

func newTask() *repository.NotificationTask {
	return &repository.NotificationTask{
		ID:      uuid.New(),
		Status:  repository.TaskStatusCreated,
		Topic:   "notifications",
		Payload: []byte(`{"phone":"+79990003344","text":"hi","order_id":1}`),
	}
}

func newPublisherFixture(t *testing.T, repo *fakeTaskRepo, producer Producer) *Publisher {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockDB := mock_database.NewMockDB(ctrl)
	mockTx := mock_database.NewMockTx(ctrl)
	mockDB.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil).AnyTimes()
	mockTx.EXPECT().Commit(gomock.Any()).Return(nil).AnyTimes()
	mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

	return NewPublisher(mockDB, repo, producer, PublisherConfig{
		PollInterval: time.Second,
		BatchSize:    10,
		MaxAttempts:  5,
	}, zap.NewNop())
}

func TestPublisher_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("claims tasks before sending", func(t *testing.T) {
		task := newTask()
		repo := &fakeTaskRepo{tasks: []*repository.NotificationTask{task}}
		producer := &recordingProducer{}

		err := newPublisherFixture(t, repo, producer).processBatch(ctx)
		require.NoError(t, err)

		require.Len(t, repo.updates, 2)
		assert.Equal(t, repository.TaskStatusProcessing, repo.updates[0].status)
		assert.True(t, repo.updates[0].inTx, "claim must run in the fetching transaction")
		assert.Equal(t, repository.TaskStatusDone, repo.updates[1].status)
		assert.Equal(t, []string{task.ID.String()}, producer.sent)
	})

	t.Run("send failure marks task failed", func(t *testing.T) {
		task := newTask()
		task.Attempts = 1
		repo := &fakeTaskRepo{tasks: []*repository.NotificationTask{task}}
		producer := &recordingProducer{err: errors.New("broker down")}

		err := newPublisherFixture(t, repo, producer).processBatch(ctx)
		require.NoError(t, err)

		require.Len(t, repo.updates, 2)
		assert.Equal(t, repository.TaskStatusProcessing, repo.updates[0].status)
		assert.Equal(t, repository.TaskStatusFailed, repo.updates[1].status)
	})

	t.Run("empty batch sends nothing", func(t *testing.T) {
		repo := &fakeTaskRepo{}
		producer := &recordingProducer{}

		err := newPublisherFixture(t, repo, producer).processBatch(ctx)
		require.NoError(t, err)
		assert.Empty(t, repo.updates)
		assert.Empty(t, producer.sent)
	})
}
