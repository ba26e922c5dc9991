package jobs

import (
	"context"
	"time"
)

// Sweeper は保持期間を過ぎた終了済みジョブと作業ディレクトリを定期的に削除します。
type Sweeper struct {
	manager      *Manager
	ttl          time.Duration
	interval     time.Duration
	stallTimeout time.Duration
}

// NewSweeper は Sweeper を作成します。stallTimeout が 0 以下なら停滞ジョブの打ち切りは行いません。
func NewSweeper(manager *Manager, ttl, interval, stallTimeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		manager:      manager,
		ttl:          ttl,
		interval:     interval,
		stallTimeout: stallTimeout,
	}
}

// Start は ctx が終了するまでバックグラウンドで掃除を繰り返します。
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now.UTC())
			}
		}
	}()
}

// Sweep は now を基準に1回分の掃除を行い、削除したジョブ数を返します。
func (s *Sweeper) Sweep(now time.Time) int {
	m := s.manager
	evicted := m.store.Evict(func(r Record) bool {
		return r.Status.IsTerminal() && now.Sub(r.CreatedAt) > s.ttl
	}, func(r Record) {
		if err := m.deps.Storage.Remove(r.WorkDir); err != nil {
			m.logf("failed to remove workspace job=%s: %v", r.JobID, err)
		}
	})
	if len(evicted) > 0 {
		m.logf("cleanup evicted %d jobs", len(evicted))
	}

	if s.stallTimeout > 0 {
		for _, r := range m.store.List() {
			if r.Status != StatusProcessing || now.Sub(r.CreatedAt) <= s.stallTimeout {
				continue
			}
			if m.abort(r.JobID, errStalled) {
				m.logf("job=%s stalled for %s, aborting", r.JobID, now.Sub(r.CreatedAt).Round(time.Second))
			}
		}
	}
	return len(evicted)
}
