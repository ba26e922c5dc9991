package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrJobNotFound は指定されたジョブが存在しない場合のエラーです。
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished は終了済みジョブを更新しようとした場合のエラーです。
	ErrJobFinished = errors.New("job already finished")
)

// Store はジョブ状態をプロセス内のメモリに保持します。
// 取得系は常にコピーを返すため、呼び出し側が内部状態を書き換えることはありません。
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewStore は Store を作成します。
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Put はジョブを登録します。
func (s *Store) Put(record Record) error {
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.JobID]; exists {
		return fmt.Errorf("job %s already exists", record.JobID)
	}
	stored := record.clone()
	s.records[record.JobID] = &stored
	return nil
}

// Get はジョブ情報のスナップショットを返します。
func (s *Store) Get(jobID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[jobID]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// Update はジョブ情報を排他的に書き換えます。
// 終了済みジョブは更新せず、進捗率が下がる変更は元に戻します。
func (s *Store) Update(jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if record.Status.IsTerminal() {
		return ErrJobFinished
	}

	prevPercent := record.Progress.Percent
	mutate(record)
	if record.Progress.Percent < prevPercent {
		record.Progress.Percent = prevPercent
	}
	if record.Progress.Percent > 100 {
		record.Progress.Percent = 100
	}
	record.UpdatedAt = s.now()
	if record.Status.IsTerminal() && record.FinishedAt == nil {
		finished := record.UpdatedAt
		record.FinishedAt = &finished
	}
	return nil
}

// UpdateProgress は進捗を更新します。
func (s *Store) UpdateProgress(jobID string, percent int, stage string) error {
	return s.Update(jobID, func(record *Record) {
		record.Progress = ProgressInfo{
			Percent: percent,
			Stage:   stage,
		}
	})
}

// MarkDone はジョブ完了時の情報を保存します。
func (s *Store) MarkDone(jobID, outputFile, outputName string) error {
	return s.Update(jobID, func(record *Record) {
		record.Status = StatusCompleted
		record.Progress = ProgressInfo{
			Percent: 100,
			Stage:   StageCompleted,
		}
		record.OutputFile = outputFile
		record.OutputName = outputName
		record.Error = nil
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。status には終了状態を指定します。
func (s *Store) MarkFailed(jobID string, status Status, errInfo *ErrorInfo) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return s.Update(jobID, func(record *Record) {
		record.Status = status
		record.OutputFile = ""
		record.OutputName = ""
		if errInfo != nil {
			e := *errInfo
			record.Error = &e
		}
	})
}

// Delete はジョブを削除します。
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
}

// View は読み取りロックを保持したまま fn を実行します。
// fn の実行中はそのジョブが削除されないことが保証されます。
func (s *Store) View(jobID string, fn func(Record) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	return fn(record.clone())
}

// Evict は pred に一致するジョブを削除し、削除したジョブのスナップショットを返します。
// onEvict は書き込みロックを保持したまま呼ばれます。
func (s *Store) Evict(pred func(Record) bool, onEvict func(Record)) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Record
	for id, record := range s.records {
		snapshot := record.clone()
		if !pred(snapshot) {
			continue
		}
		delete(s.records, id)
		if onEvict != nil {
			onEvict(snapshot)
		}
		evicted = append(evicted, snapshot)
	}
	return evicted
}

// List は全ジョブのスナップショットを作成日時順に返します。
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len は登録中のジョブ数を返します。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
