package routine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inspection/internal/events"
	"inspection/internal/logger"
	"inspection/internal/models"
	"inspection/internal/repository/sqlite"
	"inspection/internal/vision"
)

type fakeAnalyzer struct {
	calls       int
	failAtCall  int // 0 = never
	defectCount []int
	dirs        []string
}

func (a *fakeAnalyzer) RunInto(kind vision.Kind, dir string) (*models.Analysis, error) {
	a.calls++
	a.dirs = append(a.dirs, dir)
	if a.failAtCall > 0 && a.calls == a.failAtCall {
		return nil, vision.NewInferenceError(kind, errors.New("backend fault"))
	}

	id := fmt.Sprintf("analysis_fake%04d_%d", a.calls, time.Now().Unix())
	path := filepath.Join(dir, id+".jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, byte(a.calls)}, 0644); err != nil {
		return nil, err
	}

	count := 0
	if a.calls <= len(a.defectCount) {
		count = a.defectCount[a.calls-1]
	}
	return &models.Analysis{
		ID:            id,
		Kind:          kind.String(),
		ImagePath:     path,
		InstanceCount: count,
		ElapsedMs:     5,
		CapturedAt:    time.Now(),
	}, nil
}

type fakeCompositor struct {
	labels []string
	paths  []string
	err    error
}

func (c *fakeCompositor) Compose(paths []string, labels []string) ([]byte, error) {
	c.paths = append([]string(nil), paths...)
	c.labels = append([]string(nil), labels...)
	if c.err != nil {
		return nil, c.err
	}
	return []byte("composite"), nil
}

type nopPublisher struct{ published []events.Event }

func (p *nopPublisher) Publish(ev events.Event) error {
	p.published = append(p.published, ev)
	return nil
}

func (p *nopPublisher) Close() {}

func newTestOrchestrator(t *testing.T, analyzer *fakeAnalyzer, compositor *fakeCompositor) (
	*Orchestrator, *sqlite.RoutineRepository, *nopPublisher) {
	t.Helper()

	log, err := logger.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewRoutineRepository(db)

	publisher := &nopPublisher{}
	orch := NewOrchestrator(analyzer, compositor, repo, publisher,
		t.TempDir(), time.Millisecond, log)
	return orch, repo, publisher
}

func TestRunCompletesAllAngles(t *testing.T) {
	analyzer := &fakeAnalyzer{defectCount: []int{2, 0, 1, 0, 3, 0}}
	compositor := &fakeCompositor{}
	orch, repo, publisher := newTestOrchestrator(t, analyzer, compositor)

	run, err := orch.Run(6)
	require.NoError(t, err)
	require.Equal(t, models.RoutineCompleted, run.Status)
	require.Equal(t, 6, run.CompletedCount)
	require.Equal(t, 6, run.TotalDefects)
	require.InDelta(t, 1.0, run.AvgDefects, 1e-9)
	require.Regexp(t, `^routine_[0-9a-f]{8}_\d{14}$`, run.ID)

	// composite written with per-angle labels
	require.Equal(t, []string{"Angle 1", "Angle 2", "Angle 3", "Angle 4", "Angle 5", "Angle 6"},
		compositor.labels)
	data, err := os.ReadFile(run.GridImagePath)
	require.NoError(t, err)
	require.Equal(t, []byte("composite"), data)

	// staging directory with the per-angle images is gone
	_, statErr := os.Stat(analyzer.dirs[0])
	require.True(t, os.IsNotExist(statErr))

	stored, err := repo.GetByID(run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Angles, 6)

	require.Len(t, publisher.published, 1)
	require.Equal(t, events.TypeRoutineCompleted, publisher.published[0].Type)
}

func TestRunFailurePreservesCompletedAngles(t *testing.T) {
	analyzer := &fakeAnalyzer{failAtCall: 4, defectCount: []int{1, 2, 3}}
	compositor := &fakeCompositor{}
	orch, repo, publisher := newTestOrchestrator(t, analyzer, compositor)

	run, err := orch.Run(6)
	require.Error(t, err)

	var rerr *RoutineError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 4, rerr.Angle)
	require.ErrorIs(t, err, vision.ErrInference)

	require.Equal(t, models.RoutineFailed, run.Status)
	require.Equal(t, 3, run.CompletedCount)
	require.Equal(t, 6, run.TotalDefects)

	stored, err := repo.GetByID(run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoutineFailed, stored.Status)
	require.Equal(t, 4, stored.FailedAngle)
	require.Len(t, stored.Angles, 3)

	require.Len(t, publisher.published, 1)
	require.Equal(t, events.TypeRoutineFailed, publisher.published[0].Type)

	// compositor never ran for a failed routine
	require.Empty(t, compositor.labels)
}

func TestRunConsolidationFailureKeepsAllAngles(t *testing.T) {
	analyzer := &fakeAnalyzer{defectCount: []int{1, 2}}
	compositor := &fakeCompositor{err: errors.New("encode fault")}
	orch, repo, publisher := newTestOrchestrator(t, analyzer, compositor)

	run, err := orch.Run(2)
	require.Error(t, err)

	// no angle failed; the error points at consolidation instead
	var rerr *RoutineError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 0, rerr.Angle)
	require.Contains(t, err.Error(), "consolidating")

	require.Equal(t, models.RoutineFailed, run.Status)
	require.Equal(t, 2, run.CompletedCount)
	require.Equal(t, 0, run.FailedAngle)

	stored, err := repo.GetByID(run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoutineFailed, stored.Status)
	require.Equal(t, 0, stored.FailedAngle)
	require.Len(t, stored.Angles, 2)

	require.Len(t, publisher.published, 1)
	require.Equal(t, events.TypeRoutineFailed, publisher.published[0].Type)
}

func TestRunRejectsNonPositiveAngles(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &fakeAnalyzer{}, &fakeCompositor{})
	_, err := orch.Run(0)
	require.Error(t, err)
}

func TestReportRoundTrip(t *testing.T) {
	analyzer := &fakeAnalyzer{defectCount: []int{1}}
	orch, _, _ := newTestOrchestrator(t, analyzer, &fakeCompositor{})

	run, err := orch.Run(1)
	require.NoError(t, err)

	report, err := orch.Report(run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, report.ID)
	require.Len(t, report.Angles, 1)

	_, err = orch.Report("routine_missing_0")
	require.Error(t, err)
}

func TestLayout(t *testing.T) {
	require.Equal(t, GridLayout{Cols: 1, Rows: 1}, Layout(1))
	require.Equal(t, GridLayout{Cols: 2, Rows: 2}, Layout(4))
	require.Equal(t, GridLayout{Cols: 3, Rows: 2}, Layout(6))
	require.Equal(t, GridLayout{Cols: 3, Rows: 3}, Layout(7))
	require.Equal(t, GridLayout{}, Layout(0))

	g := Layout(6)
	col, row := g.CellIndex(0)
	require.Equal(t, 0, col)
	require.Equal(t, 0, row)
	col, row = g.CellIndex(5)
	require.Equal(t, 2, col)
	require.Equal(t, 1, row)
}
