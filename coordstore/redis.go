package coordstore

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over github.com/redis/go-redis/v9. Redis has
// no native ephemeral node, so ephemerality is emulated with TTL: an
// ephemeral node is written with an expiring key that the creator refreshes
// every RefreshInterval, well inside SessionTimeout, exactly as spec.md's
// TTL model requires ("refresh interval < TTL/3"). Watches are
// polling-based: Children(watch) snapshots the child set and, on a
// background ticker, diffs it against the live set and fires once on the
// first observed difference.
type RedisStore struct {
	rdb             *redis.Client
	keyPrefix       string
	sessionTimeout  time.Duration
	refreshInterval time.Duration

	mu        sync.Mutex
	ephemeral map[string]struct{} // paths this instance owns as ephemeral
	listeners []SessionListener
	stopCh    chan struct{}
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithSessionTimeout overrides the default 3s TTL window.
func WithSessionTimeout(d time.Duration) RedisOption {
	return func(r *RedisStore) { r.sessionTimeout = d }
}

// WithRefreshInterval overrides the default 400ms refresh cadence.
func WithRefreshInterval(d time.Duration) RedisOption {
	return func(r *RedisStore) { r.refreshInterval = d }
}

// NewRedisStore wraps an existing go-redis client. keyPrefix namespaces all
// keys this store touches (e.g. the guardian id).
func NewRedisStore(rdb *redis.Client, keyPrefix string, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		rdb:             rdb,
		keyPrefix:       keyPrefix,
		sessionTimeout:  3 * time.Second,
		refreshInterval: 400 * time.Millisecond,
		ephemeral:       make(map[string]struct{}),
		stopCh:          make(chan struct{}),
	}
	go r.refreshLoop()
	return r
}

func (r *RedisStore) dataKey(p string) string  { return r.keyPrefix + "|d|" + clean(p) }
func (r *RedisStore) childKey(p string) string  { return r.keyPrefix + "|c|" + clean(p) }
func (r *RedisStore) seqKey(prefix string) string { return r.keyPrefix + "|seq|" + clean(prefix) }

func (r *RedisStore) refreshLoop() {
	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.refreshInterval)
			r.mu.Lock()
			paths := make([]string, 0, len(r.ephemeral))
			for p := range r.ephemeral {
				paths = append(paths, p)
			}
			r.mu.Unlock()
			for _, p := range paths {
				r.rdb.Expire(ctx, r.dataKey(p), r.sessionTimeout)
			}
			cancel()
		}
	}
}

func (r *RedisStore) Get(ctx context.Context, p string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.dataKey(p)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoNode
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", p, err)
	}
	return b, nil
}

func (r *RedisStore) Put(ctx context.Context, p string, data []byte) error {
	ok, err := r.rdb.Exists(ctx, r.dataKey(p)).Result()
	if err != nil {
		return fmt.Errorf("redis exists %s: %w", p, err)
	}
	if ok == 0 {
		return ErrNoNode
	}
	return r.rdb.Set(ctx, r.dataKey(p), data, redis.KeepTTL).Err()
}

func (r *RedisStore) Create(ctx context.Context, p string, data []byte, ephemeral, sequence, makepath bool) (string, error) {
	p = clean(p)
	if makepath {
		if err := r.ensurePath(ctx, path.Dir(p)); err != nil {
			return "", err
		}
	}

	actual := p
	if sequence {
		n, err := r.rdb.Incr(ctx, r.seqKey(p)).Result()
		if err != nil {
			return "", fmt.Errorf("redis incr %s: %w", p, err)
		}
		actual = fmt.Sprintf("%s%010d", p, n-1)
	} else {
		ok, err := r.rdb.SetNX(ctx, r.dataKey(actual), data, 0).Result()
		if err != nil {
			return "", fmt.Errorf("redis setnx %s: %w", actual, err)
		}
		if !ok {
			return "", ErrNodeExists
		}
	}
	if sequence {
		if err := r.rdb.Set(ctx, r.dataKey(actual), data, 0).Err(); err != nil {
			return "", fmt.Errorf("redis set %s: %w", actual, err)
		}
	}
	if err := r.rdb.SAdd(ctx, r.childKey(path.Dir(actual)), path.Base(actual)).Err(); err != nil {
		return "", fmt.Errorf("redis sadd %s: %w", actual, err)
	}
	if ephemeral {
		if err := r.rdb.Expire(ctx, r.dataKey(actual), r.sessionTimeout).Err(); err != nil {
			return "", fmt.Errorf("redis expire %s: %w", actual, err)
		}
		r.mu.Lock()
		r.ephemeral[actual] = struct{}{}
		r.mu.Unlock()
	}
	return actual, nil
}

func (r *RedisStore) ensurePath(ctx context.Context, p string) error {
	if p == "/" || p == "." {
		return nil
	}
	ok, err := r.rdb.Exists(ctx, r.dataKey(p)).Result()
	if err != nil {
		return fmt.Errorf("redis exists %s: %w", p, err)
	}
	if ok == 1 {
		return nil
	}
	if err := r.ensurePath(ctx, path.Dir(p)); err != nil {
		return err
	}
	if err := r.rdb.SetNX(ctx, r.dataKey(p), []byte{}, 0).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", p, err)
	}
	return r.rdb.SAdd(ctx, r.childKey(path.Dir(p)), path.Base(p)).Err()
}

func (r *RedisStore) Delete(ctx context.Context, p string, recursive bool) error {
	p = clean(p)
	ok, err := r.rdb.Exists(ctx, r.dataKey(p)).Result()
	if err != nil {
		return fmt.Errorf("redis exists %s: %w", p, err)
	}
	if ok == 0 {
		return ErrNoNode
	}
	if recursive {
		children, _, err := r.Children(ctx, p, nil, false)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := r.Delete(ctx, path.Join(p, c), true); err != nil {
				return err
			}
		}
	}
	r.mu.Lock()
	delete(r.ephemeral, p)
	r.mu.Unlock()
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.dataKey(p))
	pipe.Del(ctx, r.childKey(p))
	pipe.SRem(ctx, r.childKey(path.Dir(p)), path.Base(p))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Exists(ctx context.Context, p string) (bool, error) {
	ok, err := r.rdb.Exists(ctx, r.dataKey(clean(p))).Result()
	return ok == 1, err
}

func (r *RedisStore) Children(ctx context.Context, p string, watch Watcher, withData bool) ([]string, [][]byte, error) {
	p = clean(p)
	exists, err := r.Exists(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if !exists && p != "/" {
		return nil, nil, ErrNoNode
	}
	names, err := r.rdb.SMembers(ctx, r.childKey(p)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis smembers %s: %w", p, err)
	}
	// The child set is not pruned when an ephemeral node's TTL lapses, so
	// drop members whose data key has expired.
	live := names[:0]
	for _, n := range names {
		ok, err := r.Exists(ctx, path.Join(p, n))
		if err != nil {
			return nil, nil, fmt.Errorf("redis exists %s: %w", path.Join(p, n), err)
		}
		if ok {
			live = append(live, n)
		}
	}
	names = live
	sort.Strings(names)

	var datas [][]byte
	if withData {
		datas = make([][]byte, len(names))
		for i, n := range names {
			datas[i], _ = r.Get(ctx, path.Join(p, n))
		}
	}
	if watch != nil {
		go r.pollWatch(p, names, watch)
	}
	return names, datas, nil
}

// pollWatch re-lists p's children at the refresh cadence until the set
// differs from baseline, then fires once. This is the polling substitute
// for a native watch mechanism; it is bounded by sessionTimeout*4 so a
// forgotten watch does not leak forever.
func (r *RedisStore) pollWatch(p string, baseline []string, watch Watcher) {
	deadline := time.Now().Add(r.sessionTimeout * 4)
	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()
	for range ticker.C {
		if time.Now().After(deadline) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.refreshInterval)
		names, _, err := r.Children(ctx, p, nil, false)
		cancel()
		if err == ErrNoNode {
			names, err = nil, nil
		}
		if err != nil {
			continue
		}
		sort.Strings(names)
		if strings.Join(names, ",") != strings.Join(baseline, ",") {
			watch(Event{Type: EventChild, State: StateConnected, Path: p})
			return
		}
	}
}

func (r *RedisStore) AddSessionListener(l SessionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *RedisStore) Disconnect(ctx context.Context) error {
	close(r.stopCh)
	r.mu.Lock()
	paths := make([]string, 0, len(r.ephemeral))
	for p := range r.ephemeral {
		paths = append(paths, p)
	}
	listeners := append([]SessionListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, p := range paths {
		_ = r.Delete(ctx, p, false)
	}
	for _, l := range listeners {
		l(StateLost)
	}
	return nil
}
