package examtoken

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/examgate/internal/model"
	"github.com/hitoshi/examgate/internal/repository"
)

// --- インメモリのフェイク ---

type fakeExamRepo struct {
	exams map[int64]*model.Exam
	err   error
}

func (f *fakeExamRepo) FindByID(ctx context.Context, id int64) (*model.Exam, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.exams[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

type fakeStudentRepo struct {
	students map[int64]*model.Student
	err      error
}

func (f *fakeStudentRepo) FindByID(ctx context.Context, id int64) (*model.Student, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.students[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

type pairKey struct {
	examID, studentID int64
}

// fakeTokenRepo はPostgreSQLの一意制約と行ロックを模したトークンストア。
// Consumeはストア全体のロックでcheckと更新を直列化する。
type fakeTokenRepo struct {
	mu      sync.Mutex
	byToken map[string]*model.AccessToken
	byPair  map[pairKey]string

	// 事前確認をすり抜ける同時発行を再現する場合にtrue
	skipPairLookup bool
	consumeErr     error
	createCalls    int

	// Consumeでの試験・受験者の解決先（JOINに相当）
	exams    *fakeExamRepo
	students *fakeStudentRepo
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{
		byToken: make(map[string]*model.AccessToken),
		byPair:  make(map[pairKey]string),
	}
}

func (f *fakeTokenRepo) Create(ctx context.Context, t *model.AccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++

	if _, ok := f.byPair[pairKey{t.ExamID, t.StudentID}]; ok {
		return model.NewDuplicateTokenError()
	}
	if _, ok := f.byToken[t.Token]; ok {
		return repository.ErrTokenCollision
	}
	cp := *t
	f.byToken[t.Token] = &cp
	f.byPair[pairKey{t.ExamID, t.StudentID}] = t.Token
	return nil
}

func (f *fakeTokenRepo) FindByExamAndStudent(ctx context.Context, examID, studentID int64) (*model.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.skipPairLookup {
		return nil, nil
	}
	token, ok := f.byPair[pairKey{examID, studentID}]
	if !ok {
		return nil, nil
	}
	cp := *f.byToken[token]
	return &cp, nil
}

func (f *fakeTokenRepo) FindByToken(ctx context.Context, token string) (*model.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byToken[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTokenRepo) Consume(ctx context.Context, token string, check func(t *model.AccessToken) error) (*repository.ConsumedToken, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.byToken[token]
	if !ok {
		return nil, nil
	}
	exam, err := f.exams.FindByID(ctx, t.ExamID)
	if err != nil {
		return nil, err
	}
	student, err := f.students.FindByID(ctx, t.StudentID)
	if err != nil {
		return nil, err
	}
	if exam == nil || student == nil {
		return nil, nil
	}
	cp := *t
	if err := check(&cp); err != nil {
		return nil, err
	}
	t.IsUsed = true
	cp.IsUsed = true
	return &repository.ConsumedToken{AccessToken: &cp, Exam: exam, Student: student}, nil
}

func (f *fakeTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, t := range f.byToken {
		if t.ValidUntil.Before(cutoff) {
			delete(f.byToken, token)
			delete(f.byPair, pairKey{t.ExamID, t.StudentID})
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) countPair(examID, studentID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.byToken {
		if t.ExamID == examID && t.StudentID == studentID {
			n++
		}
	}
	return n
}

func (f *fakeTokenRepo) isUsed(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byToken[token].IsUsed
}

type enqueued struct {
	token, address string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []enqueued
}

func (f *fakeNotifier) Enqueue(token, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enqueued{token, address})
}

type fakeRecorder struct {
	mu      sync.Mutex
	issues  []string
	redeems []string
}

func (f *fakeRecorder) RecordIssue(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, result)
}

func (f *fakeRecorder) RecordRedeem(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeems = append(f.redeems, result)
}

var _ repository.AccessTokenRepository = (*fakeTokenRepo)(nil)
