package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// errLockWait はロック待ちが期限切れになったことを示す。
var errLockWait = errors.New("lock wait exceeded")

// lockEntry はキーのセマフォと、それを保持または待機している数。
type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyedLock はキーごとに重み1のセマフォを割り当てる排他ロック。
// 待機はcontextでキャンセルでき、タイムアウト付きで取得できる。
// 保持者も待機者もいなくなったキーのエントリは破棄する。
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewKeyedLock はKeyedLockを生成する。
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

func (k *KeyedLock) acquireRef(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedLock) releaseRef(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size は管理中のキー数を返す。
func (k *KeyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Lock は key のロックを取得し、解放関数を返す。
// timeout 以内に取得できない場合はerrLockWaitを返す。親contextのキャンセルはそのエラーを返す。
func (k *KeyedLock) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	e := k.acquireRef(key)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		k.releaseRef(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errLockWait
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.releaseRef(key, e)
		})
	}, nil
}
