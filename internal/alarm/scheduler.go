// Package alarm schedules the timeout alarms fan-in synchronization needs:
// one timer per waiting fan-in, firing onTimeoutAlarm back into the owning
// run. Two backends are provided — an in-memory one (default, single
// process) and a Redis sorted-set one (common/redis/client.go) for sweeping
// across instances.
package alarm

import (
	"context"
	"sync"
	"time"

	redisclient "github.com/lyzr/flowcore/common/redis"
)

// Logger is the subset of *logger.Logger the schedulers need.
type Logger interface {
	Error(msg string, args ...any)
}

// Fired identifies one alarm that has come due.
type Fired struct {
	RunID     string
	FanInPath string
}

// OnFire is invoked once per fired alarm. Implementations should be
// non-blocking or dispatch onto their own goroutine — a slow handler stalls
// the sweep loop.
type OnFire func(Fired)

// Scheduler is the interface dispatch depends on; both backends satisfy it.
type Scheduler interface {
	Schedule(ctx context.Context, runID, fanInPath string, fireAt time.Time) error
	Cancel(ctx context.Context, runID, fanInPath string) error
}

func alarmKey(runID, fanInPath string) string {
	return runID + "\x1f" + fanInPath
}

// MemoryScheduler arms one time.Timer per alarm. Correct for a single
// coordinator process; alarms do not survive a restart.
type MemoryScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	onFire OnFire
}

// NewMemoryScheduler builds a process-local alarm scheduler.
func NewMemoryScheduler(onFire OnFire) *MemoryScheduler {
	return &MemoryScheduler{timers: make(map[string]*time.Timer), onFire: onFire}
}

// Schedule arms (or re-arms, replacing any existing timer) an alarm for
// (runID, fanInPath) at fireAt.
func (s *MemoryScheduler) Schedule(_ context.Context, runID, fanInPath string, fireAt time.Time) error {
	key := alarmKey(runID, fanInPath)
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		s.onFire(Fired{RunID: runID, FanInPath: fanInPath})
	})
	return nil
}

// Cancel disarms a previously scheduled alarm, if one is still pending.
func (s *MemoryScheduler) Cancel(_ context.Context, runID, fanInPath string) error {
	key := alarmKey(runID, fanInPath)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	return nil
}

// RedisScheduler stores alarms in a Redis sorted set keyed by fire time and
// sweeps it on an interval, so alarms survive a coordinator restart and can
// be swept by any instance sharing the Redis backend.
type RedisScheduler struct {
	client     *redisclient.Client
	key        string
	sweepEvery time.Duration
	onFire     OnFire
	logger     Logger

	cancel context.CancelFunc
}

// NewRedisScheduler builds a Redis sorted-set alarm scheduler under the
// given set key.
func NewRedisScheduler(client *redisclient.Client, key string, sweepEvery time.Duration, onFire OnFire, logger Logger) *RedisScheduler {
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}
	return &RedisScheduler{client: client, key: key, sweepEvery: sweepEvery, onFire: onFire, logger: logger}
}

// Schedule adds the member "runID\x1ffanInPath" to the sorted set, scored
// by fireAt.
func (s *RedisScheduler) Schedule(ctx context.Context, runID, fanInPath string, fireAt time.Time) error {
	return s.client.ScheduleAlarm(ctx, s.key, alarmKey(runID, fanInPath), fireAt)
}

// Cancel removes a pending alarm member.
func (s *RedisScheduler) Cancel(ctx context.Context, runID, fanInPath string) error {
	return s.client.RemoveAlarm(ctx, s.key, alarmKey(runID, fanInPath))
}

// Start launches the background sweep loop; call Stop to end it.
func (s *RedisScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop.
func (s *RedisScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *RedisScheduler) sweep(ctx context.Context) {
	due, err := s.client.DueAlarms(ctx, s.key, time.Now())
	if err != nil {
		s.logger.Error("alarm sweep failed", "error", err)
		return
	}
	for _, member := range due {
		runID, fanInPath, ok := splitAlarmKey(member)
		if !ok {
			continue
		}
		if err := s.client.RemoveAlarm(ctx, s.key, member); err != nil {
			s.logger.Error("remove fired alarm", "error", err, "member", member)
		}
		s.onFire(Fired{RunID: runID, FanInPath: fanInPath})
	}
}

func splitAlarmKey(member string) (runID, fanInPath string, ok bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == '\x1f' {
			return member[:i], member[i+1:], true
		}
	}
	return "", "", false
}
