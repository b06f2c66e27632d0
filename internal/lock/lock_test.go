/*
Copyright 2024 Blnk Finance Authors.

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

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, CheckoutKey("shop_1", "chk_1"), "owner-1")

	mock.ExpectSetNX("skiddly:lock:checkout:shop_1:chk_1", "owner-1", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_Held(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, CaseKey("case_1"), "owner-1")

	mock.ExpectSetNX("skiddly:lock:case:case_1", "owner-1", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.True(t, errors.Is(err, ErrLockHeld))
	assert.EqualError(t, err, "lock is already held: skiddly:lock:case:case_1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(1))
	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(0))

	assert.NoError(t, locker.Unlock(context.Background()))
	assert.EqualError(t, locker.Unlock(context.Background()),
		"unlock failed, either lock expired or you're not the lock holder for key test-key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(1))
	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(0))

	assert.NoError(t, locker.ExtendLock(context.Background(), 5*time.Second))
	assert.EqualError(t, locker.ExtendLock(context.Background(), 5*time.Second),
		"lock extension failed for key test-key, either lock expired or you're not the holder")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WaitLock_AcquiresAfterRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	holder := NewLocker(client, CheckoutKey("shop_1", "chk_1"), "first")
	require.NoError(t, holder.Lock(ctx, 5*time.Second))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = holder.Unlock(ctx)
	}()

	waiter := NewLocker(client, CheckoutKey("shop_1", "chk_1"), "second")
	assert.NoError(t, waiter.WaitLock(ctx, 5*time.Second, 2*time.Second))

	owner, err := client.Get(ctx, waiter.Key()).Result()
	assert.NoError(t, err)
	assert.Equal(t, "second", owner)
}

func TestLocker_WaitLock_Timeout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	require.NoError(t, NewLocker(client, "test-key", "first").Lock(ctx, time.Minute))

	err := NewLocker(client, "test-key", "second").WaitLock(ctx, 5*time.Second, 300*time.Millisecond)
	assert.EqualError(t, err, "failed to acquire lock for key test-key within the wait timeout")
}
