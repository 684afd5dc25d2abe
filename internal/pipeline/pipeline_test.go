package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/analytics"
	"github.com/law1om/analytics-platform/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	snap    analytics.Snapshot
	fail    map[string]error
	block   map[string]chan struct{}
	entered chan string

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeSource) wait(ctx context.Context, name string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- name
	}
	if ch := f.block[name]; ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.fail[name]
}

func (f *fakeSource) ListDivisions(ctx context.Context) ([]domain.Division, error) {
	if err := f.wait(ctx, CollectionDivisions); err != nil {
		return nil, err
	}
	return f.snap.Divisions, nil
}

func (f *fakeSource) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	if err := f.wait(ctx, CollectionGoals); err != nil {
		return nil, err
	}
	return f.snap.Goals, nil
}

func (f *fakeSource) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if err := f.wait(ctx, CollectionTasks); err != nil {
		return nil, err
	}
	return f.snap.Tasks, nil
}

func (f *fakeSource) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := f.wait(ctx, CollectionUsers); err != nil {
		return nil, err
	}
	return f.snap.Users, nil
}

func snapshot(goals int) analytics.Snapshot {
	s := analytics.Snapshot{
		Divisions: []domain.Division{{ID: 1, Name: "Retail", Blocks: []string{"Cards"}}},
		Users:     []domain.User{{ID: 7, Name: "Ramil", Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(1), Block: "Cards"}},
	}
	for i := 0; i < goals; i++ {
		id := int64(10 + i)
		s.Goals = append(s.Goals, domain.Goal{ID: id, Title: "Goal", DivisionID: 1, Progress: 100 * (i % 2)})
		s.Tasks = append(s.Tasks, domain.Task{ID: 100 + id, GoalID: id, Status: domain.StatusInProgress, UserID: domain.Int64Ptr(7)})
	}
	return s
}

func adminDashboard() Request {
	return Request{Actor: analytics.Actor{UserID: 1, Role: domain.RoleAdmin}, Kind: ViewDashboard}
}

func TestFetchCollectsAllCollections(t *testing.T) {
	src := &fakeSource{snap: snapshot(2)}
	got, err := Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff(src.snap, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchFailureCancelsSiblings(t *testing.T) {
	cause := errors.New("boom")
	src := &fakeSource{
		snap:  snapshot(1),
		fail:  map[string]error{CollectionTasks: cause},
		block: map[string]chan struct{}{CollectionUsers: make(chan struct{})},
	}
	_, err := Fetch(context.Background(), src)
	var fe *analytics.FetchError
	if !errors.As(err, &fe) || fe.Collection != CollectionTasks {
		t.Fatalf("expected tasks fetch error, got %v", err)
	}
	if !errors.Is(err, cause) || !errors.Is(err, analytics.ErrFetchFailed) {
		t.Fatalf("fetch error should wrap cause and sentinel: %v", err)
	}
}

func TestRunnerProducesDashboard(t *testing.T) {
	r := NewRunner(&fakeSource{snap: snapshot(2)}, zap.NewNop())
	res, err := r.Run(context.Background(), adminDashboard())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID == "" || res.Dashboard == nil {
		t.Fatalf("incomplete result: %+v", res)
	}
	want := analytics.DashboardTiles{TotalGoals: 2, CompletedGoals: 1, TotalTasks: 2, PendingTasks: 2}
	if diff := cmp.Diff(want, res.Dashboard.Tiles); diff != "" {
		t.Fatalf("tiles (-want +got):\n%s", diff)
	}
}

func TestRunnerMyDivisionAndBlock(t *testing.T) {
	r := NewRunner(&fakeSource{snap: snapshot(1)}, nil)
	emp := analytics.Actor{UserID: 7, Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(1)}

	res, err := r.Run(context.Background(), Request{Actor: emp, Kind: ViewMyDivision})
	if err != nil {
		t.Fatalf("my division: %v", err)
	}
	if res.Division == nil || res.Division.Division.ID != 1 || res.Request.DivisionID != 1 {
		t.Fatalf("unexpected division result: %+v", res)
	}

	_, err = r.Run(context.Background(), Request{Actor: analytics.Actor{Role: domain.RoleAdmin}, Kind: ViewMyDivision})
	if !errors.Is(err, analytics.ErrNoDivision) {
		t.Fatalf("expected no division error, got %v", err)
	}

	res, err = r.Run(context.Background(), Request{Actor: analytics.Actor{Role: domain.RoleAdmin}, Kind: ViewBlock, DivisionID: 1, Block: "Cards"})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if res.Block == nil || len(res.Block.Members) != 1 {
		t.Fatalf("unexpected block result: %+v", res.Block)
	}
	_, err = r.Run(context.Background(), Request{Actor: analytics.Actor{Role: domain.RoleAdmin}, Kind: ViewBlock, DivisionID: 1, Block: "Nope"})
	if analytics.KindOf(err) != analytics.KindNotFound {
		t.Fatalf("expected not found kind, got %v", err)
	}
}

func TestRunnerScopeFailure(t *testing.T) {
	r := NewRunner(&fakeSource{snap: snapshot(1)}, nil)
	req := Request{Actor: analytics.Actor{Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(9)}, Kind: ViewDashboard}
	_, err := r.Run(context.Background(), req)
	if !errors.Is(err, analytics.ErrScopeDivisionNotFound) {
		t.Fatalf("expected scope failure, got %v", err)
	}
}

func TestRefreshIsFailAtomic(t *testing.T) {
	src := &fakeSource{snap: snapshot(2)}
	s := NewSession(NewRunner(src, nil), adminDashboard(), nil)
	first, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	src.snap = snapshot(4)
	src.fail = map[string]error{CollectionGoals: errors.New("503")}
	if _, err := s.Refresh(context.Background()); analytics.KindOf(err) != analytics.KindFetchFailure {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	cur, ok := s.View.Current()
	if !ok {
		t.Fatalf("view lost its committed result")
	}
	if diff := cmp.Diff(first, cur); diff != "" {
		t.Fatalf("failed run changed the view (-before +after):\n%s", diff)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	s := NewSession(NewRunner(&fakeSource{snap: snapshot(3)}, nil), adminDashboard(), nil)
	a, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	b, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if diff := cmp.Diff(a.Dashboard, b.Dashboard); diff != "" {
		t.Fatalf("repeated refresh differs:\n%s", diff)
	}
	if b.Seq <= a.Seq {
		t.Fatalf("sequence should advance: %d then %d", a.Seq, b.Seq)
	}
}

func TestLateRunIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	slow := &fakeSource{
		snap:    snapshot(1),
		block:   map[string]chan struct{}{CollectionTasks: release},
		entered: make(chan string, 4),
	}
	fast := &fakeSource{snap: snapshot(3)}
	view := &View{}
	r1 := &Session{Runner: NewRunner(slow, nil), View: view, Request: adminDashboard()}
	r2 := &Session{Runner: NewRunner(fast, nil), View: view, Request: adminDashboard()}

	done := make(chan Result, 1)
	go func() {
		res, err := r1.Refresh(context.Background())
		if err != nil {
			t.Errorf("r1: %v", err)
		}
		done <- res
	}()
	for i := 0; i < 4; i++ {
		<-slow.entered
	}

	res2, err := r2.Refresh(context.Background())
	if err != nil {
		t.Fatalf("r2: %v", err)
	}
	close(release)
	res1 := <-done

	cur, _ := view.Current()
	if cur.Dashboard.Tiles.TotalGoals != 3 || cur.RunID != res2.RunID {
		t.Fatalf("expected r2 to stay materialized, got %+v", cur.Dashboard.Tiles)
	}
	if res1.RunID != res2.RunID {
		t.Fatalf("late refresh should return the newer committed result")
	}
}

func TestViewCommitOrdering(t *testing.T) {
	v := &View{}
	if _, ok := v.Current(); ok {
		t.Fatalf("empty view should have no result")
	}
	s1, s2 := v.Begin(), v.Begin()
	if !v.Commit(s2, Result{RunID: "b"}) {
		t.Fatalf("commit of newest should succeed")
	}
	if v.Commit(s1, Result{RunID: "a"}) {
		t.Fatalf("older commit must be rejected")
	}
	cur, _ := v.Current()
	if cur.RunID != "b" || cur.Seq != s2 {
		t.Fatalf("unexpected current: %+v", cur)
	}
}

type recordingMutator struct {
	created []analyticssdk.TaskInput
	src     *fakeSource
}

func (m *recordingMutator) CreateGoal(context.Context, analyticssdk.GoalInput) (domain.Goal, error) {
	return domain.Goal{}, nil
}
func (m *recordingMutator) UpdateGoal(context.Context, int64, analyticssdk.GoalInput) (domain.Goal, error) {
	return domain.Goal{}, nil
}
func (m *recordingMutator) DeleteGoal(context.Context, int64) error { return nil }
func (m *recordingMutator) CreateTask(_ context.Context, in analyticssdk.TaskInput) (domain.Task, error) {
	m.created = append(m.created, in)
	task := domain.Task{ID: 999, Title: in.Title, GoalID: in.GoalID, Status: domain.StatusCompleted}
	m.src.snap.Tasks = append(m.src.snap.Tasks, task)
	return task, nil
}
func (m *recordingMutator) UpdateTask(context.Context, int64, analyticssdk.TaskInput) (domain.Task, error) {
	return domain.Task{}, nil
}
func (m *recordingMutator) DeleteTask(context.Context, int64) error { return nil }

func TestMutationTriggersFullRefresh(t *testing.T) {
	src := &fakeSource{snap: snapshot(1)}
	mut := &recordingMutator{src: src}
	s := NewSession(NewRunner(src, nil), adminDashboard(), mut)
	if _, err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	task, res, err := s.CreateTask(context.Background(), analyticssdk.TaskInput{Title: "New", GoalID: 10})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID != 999 || len(mut.created) != 1 {
		t.Fatalf("mutation not forwarded")
	}
	if res.Dashboard.Tiles.TotalTasks != 2 || res.Dashboard.Tiles.CompletedTasks != 1 {
		t.Fatalf("refresh did not pick up the new task: %+v", res.Dashboard.Tiles)
	}
	if src.calls[CollectionDivisions] != 2 {
		t.Fatalf("expected a full refetch, divisions fetched %d times", src.calls[CollectionDivisions])
	}

	ro := NewSession(NewRunner(src, nil), adminDashboard(), nil)
	if _, err := ro.DeleteTask(context.Background(), 1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}

type divisionClient struct {
	divisions map[int64]domain.Division
	goals     []domain.Goal
	tasks     []domain.Task
}

func (c divisionClient) GetDivision(_ context.Context, id int64) (domain.Division, error) {
	d, ok := c.divisions[id]
	if !ok {
		return domain.Division{}, &analyticssdk.APIError{StatusCode: http.StatusNotFound}
	}
	return d, nil
}

func (c divisionClient) ListGoalsByDivision(_ context.Context, id int64) ([]domain.Goal, error) {
	if _, ok := c.divisions[id]; !ok {
		return nil, &analyticssdk.APIError{StatusCode: http.StatusNotFound}
	}
	return c.goals, nil
}

func (c divisionClient) ListTasks(context.Context) ([]domain.Task, error) { return c.tasks, nil }
func (c divisionClient) ListUsers(context.Context) ([]domain.User, error) { return nil, nil }

func TestDivisionSourceMapsMissingDivisionToScopeFailure(t *testing.T) {
	client := divisionClient{divisions: map[int64]domain.Division{1: {ID: 1, Name: "Retail"}}}
	emp := analytics.Actor{Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(2)}

	r := NewRunner(DivisionSource{Client: client, DivisionID: 2}, nil)
	r.Timeout = time.Second
	_, err := r.Run(context.Background(), Request{Actor: emp, Kind: ViewDashboard})
	if analytics.KindOf(err) != analytics.KindScopeResolution {
		t.Fatalf("expected scope resolution failure, got %v", err)
	}

	emp.DivisionID = domain.Int64Ptr(1)
	r.Source = DivisionSource{Client: client, DivisionID: 1}
	res, err := r.Run(context.Background(), Request{Actor: emp, Kind: ViewDashboard})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Dashboard.Tiles != (analytics.DashboardTiles{}) {
		t.Fatalf("expected empty tiles, got %+v", res.Dashboard.Tiles)
	}
}

type fullClient struct {
	divisionClient
}

func (c fullClient) ListDivisions(context.Context) ([]domain.Division, error) { return nil, nil }
func (c fullClient) ListGoals(context.Context) ([]domain.Goal, error)         { return nil, nil }

func TestSourceForPicksDivisionSourceForEmployees(t *testing.T) {
	c := fullClient{}
	if _, ok := SourceFor(c, analytics.Actor{Role: domain.RoleAdmin, DivisionID: domain.Int64Ptr(1)}).(fullClient); !ok {
		t.Fatalf("admin should read every collection")
	}
	src, ok := SourceFor(c, analytics.Actor{Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(4)}).(DivisionSource)
	if !ok || src.DivisionID != 4 {
		t.Fatalf("employee should read through a division source, got %#v", src)
	}
	if _, ok := SourceFor(c, analytics.Actor{Role: domain.RoleEmployee}).(fullClient); !ok {
		t.Fatalf("employee without division should fall through to scope resolution")
	}
}

func TestDivisionSourceReportsNoForeignOrphans(t *testing.T) {
	client := divisionClient{
		divisions: map[int64]domain.Division{1: {ID: 1, Name: "Retail"}},
		goals:     []domain.Goal{{ID: 10, Title: "Grow cards", DivisionID: 1}},
		tasks: []domain.Task{
			{ID: 100, Title: "Campaign", GoalID: 10},
			{ID: 200, Title: "Term sheet", GoalID: 20},
			{ID: 201, Title: "Syndicate", GoalID: 20},
		},
	}
	core, logs := observer.New(zap.WarnLevel)
	emp := analytics.Actor{Role: domain.RoleEmployee, DivisionID: domain.Int64Ptr(1)}

	r := NewRunner(DivisionSource{Client: client, DivisionID: 1}, zap.New(core))
	res, err := r.Run(context.Background(), Request{Actor: emp, Kind: ViewMyDivision})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Orphans.Empty() {
		t.Fatalf("expected no orphans in scope, got %+v", res.Orphans)
	}
	if n := logs.FilterMessage("unresolved references").Len(); n != 0 {
		t.Fatalf("expected no orphan warning, got %d", n)
	}
	if got := len(res.Division.Tasks); got != 1 {
		t.Fatalf("expected the division's one task, got %d", got)
	}

	client.tasks = append(client.tasks, domain.Task{ID: 101, Title: "Lease", GoalID: 10, UserID: domain.Int64Ptr(77)})
	r.Source = DivisionSource{Client: client, DivisionID: 1}
	if _, err := r.Run(context.Background(), Request{Actor: emp, Kind: ViewMyDivision}); err != nil {
		t.Fatalf("run: %v", err)
	}
	warned := logs.FilterMessage("unresolved references").All()
	if len(warned) != 1 {
		t.Fatalf("expected one orphan warning, got %d", len(warned))
	}
	if diff := cmp.Diff([]any{int64(101)}, warned[0].ContextMap()["unknown_assignees"]); diff != "" {
		t.Fatalf("unknown assignees (-want +got):\n%s", diff)
	}
}
