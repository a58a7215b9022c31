package postgresql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	mock_database "gitlab.com/parcelmkt/fulfillment/internal/db/mocks"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
	"gitlab.com/parcelmkt/fulfillment/internal/repository/postgresql"
)

type idRow struct {
	id  int64
	err error
}

func (r idRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int64); ok {
		*p = r.id
	}
	return nil
}

func TestOrderRepo_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		order := &repository.Order{
			SenderName:     "Ivan Petrov",
			SenderPhone:    "+79990001122",
			RecipientName:  "Anna Sidorova",
			RecipientPhone: "+79990003344",
			Weight:         2.5,
			Status:         repository.OrderStatusNew,
			Price:          450.50,
		}

		mockDB.EXPECT().
			ExecQueryRow(gomock.Any(), gomock.Any(), varargsOfLen(32)...).
			Return(idRow{id: 42})

		err := repo.Create(ctx, order)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), order.ID)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			ExecQueryRow(gomock.Any(), gomock.Any(), varargsOfLen(32)...).
			Return(idRow{err: errors.New("connection refused")})

		err := repo.Create(ctx, &repository.Order{})
		assert.Error(t, err)
	})
}

func varargsOfLen(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = gomock.Any()
	}
	return args
}

func TestOrderRepo_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("order found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(int64(7))).
			DoAndReturn(func(_ context.Context, dest interface{}, _ string, _ ...interface{}) error {
				order := dest.(*repository.Order)
				order.ID = 7
				order.Status = repository.OrderStatusPaid
				return nil
			})

		order, err := repo.GetByID(ctx, 7)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), order.ID)
		assert.Equal(t, repository.OrderStatusPaid, order.Status)
	})

	t.Run("not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(int64(404))).
			Return(pgx.ErrNoRows)

		_, err := repo.GetByID(ctx, 404)
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestOrderRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Eq(repository.OrderStatusPaid), gomock.Eq(int64(1))).
			Return(pgconnTag("UPDATE 1"), nil)

		err := repo.UpdateStatus(ctx, 1, repository.OrderStatusPaid)
		assert.NoError(t, err)
	})

	t.Run("missing order", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconnTag("UPDATE 0"), nil)

		err := repo.UpdateStatus(ctx, 99, repository.OrderStatusPaid)
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestOrderRepo_SetExternalIDs(t *testing.T) {
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := postgresql.NewOrderRepo(mockDB)

	externalUUID := "72753031-1111-2222-3333-444455556666"
	number := "1106207527"

	mockDB.EXPECT().
		Exec(gomock.Any(), gomock.Any(), gomock.Eq(&externalUUID), gomock.Eq(&number), gomock.Eq(int64(5))).
		Return(pgconnTag("UPDATE 1"), nil)

	err := repo.SetExternalIDs(ctx, 5, &externalUUID, &number)
	assert.NoError(t, err)
}

func TestOrderRepo_ListSyncable(t *testing.T) {
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := postgresql.NewOrderRepo(mockDB)

	mockDB.EXPECT().
		Select(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, dest interface{}, _ string, _ ...interface{}) error {
			orders := dest.(*[]*repository.Order)
			*orders = append(*orders, &repository.Order{ID: 1, Status: repository.OrderStatusInDelivery})
			return nil
		})

	orders, err := repo.ListSyncable(ctx)
	assert.NoError(t, err)
	assert.Len(t, orders, 1)
}
