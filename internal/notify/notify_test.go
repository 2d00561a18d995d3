package notify

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	t.Run("StoresAndQueues", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		svc := NewService(db, redisClient)

		dbMock.ExpectExec("INSERT INTO notifications").
			WithArgs("user-1", "Your wallet is ready.", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		redisMock.ExpectRPush("notification_queue",
			[]byte(`{"message":"Your wallet is ready.","userId":"user-1"}`)).SetVal(1)

		svc.Add(context.Background(), "user-1", "Your wallet is ready.")

		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("RedisDownDegradesToDBOnly", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		svc := NewService(db, nil)

		dbMock.ExpectExec("INSERT INTO notifications").
			WillReturnResult(sqlmock.NewResult(1, 1))

		svc.Add(context.Background(), "user-1", "hello")

		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("DBFailureIsSwallowed", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		svc := NewService(db, nil)

		dbMock.ExpectExec("INSERT INTO notifications").
			WillReturnError(assert.AnError)

		// Must not panic or propagate; notification delivery never fails the
		// operation that triggered it.
		svc.Add(context.Background(), "user-1", "hello")
	})
}
