package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "product-importer/errors"
	"product-importer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const header = "sku,name,description,price\n"

type importerFixture struct {
	progress  *fakeProgressStore
	staging   *fakeStaging
	source    fakeSource
	metrics   *fakeMetrics
	publisher *fakePublisher
	importer  *Importer
}

func newImporterFixture(t *testing.T, files map[string]string) *importerFixture {
	t.Helper()
	f := &importerFixture{
		progress:  newFakeProgressStore(),
		staging:   newFakeStaging(),
		source:    fakeSource{files: files},
		metrics:   &fakeMetrics{},
		publisher: &fakePublisher{},
	}
	im, err := NewImporter(
		PipelineContext{Progress: f.progress, Staging: f.staging, Source: f.source},
		WithLogger(zap.NewNop()),
		WithMetrics(f.metrics),
		WithEvents(f.publisher),
	)
	require.NoError(t, err)
	f.importer = im
	return f
}

func job(id, path string, active bool) models.ImportJob {
	return models.ImportJob{JobID: id, FilePath: path, DefaultActive: active}
}

func TestNewImporter_RequiresPipelineHandles(t *testing.T) {
	_, err := NewImporter(PipelineContext{})
	assert.Error(t, err)
}

func TestRun_PublishesEveryPhaseInOrder(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\nA2,Bar,,2\n"})

	result, err := f.importer.Run(context.Background(), job("job-1", "a.csv", true))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, int64(2), result.RowsStaged)
	assert.Equal(t, int64(2), result.RowsUpserted)

	var statuses []models.ImportStatus
	var percents []int
	for _, ev := range f.progress.events("job-1") {
		statuses = append(statuses, ev.Status)
		percents = append(percents, ev.Percent)
	}
	assert.Equal(t, []models.ImportStatus{
		models.StatusStarting,
		models.StatusPreparingStaging,
		models.StatusCopyingCSV,
		models.StatusCopiedToStaging,
		models.StatusDeduplicating,
		models.StatusUpserting,
		models.StatusUpsertComplete,
		models.StatusDone,
	}, statuses)
	assert.Equal(t, []int{0, 5, 10, 50, 60, 75, 95, 100}, percents)
	assert.Equal(t, []string{"job-1"}, f.staging.released)
}

func TestRun_LastOccurrenceWinsCaseInsensitively(t *testing.T) {
	f := newImporterFixture(t, map[string]string{
		"dups.csv": header + "ABC-1,first,,1\nabc-1,second,,2\nAbc-1,third,d,3\n",
	})

	result, err := f.importer.Run(context.Background(), job("job-1", "dups.csv", true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.DuplicatesRemoved)

	products := f.staging.snapshot()
	require.Len(t, products, 1)
	p := products["abc-1"]
	assert.Equal(t, "Abc-1", p.sku)
	assert.Equal(t, "third", *p.name)
	assert.Equal(t, "d", *p.description)
	assert.Equal(t, "3", *p.price)
}

func TestRun_DefaultActiveAppliesToEveryRow(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\nA2,Bar,,2\n"})

	_, err := f.importer.Run(context.Background(), job("job-1", "a.csv", false))
	require.NoError(t, err)

	for key, p := range f.staging.snapshot() {
		assert.False(t, p.active, key)
	}
}

func TestRun_IdempotentRestart(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\na1,Foo2,,2\nB1,Bar,,\n"})
	ctx := context.Background()

	_, err := f.importer.Run(ctx, job("job-1", "a.csv", true))
	require.NoError(t, err)
	first := f.staging.snapshot()

	_, err = f.importer.Run(ctx, job("job-1", "a.csv", true))
	require.NoError(t, err)
	assert.Equal(t, first, f.staging.snapshot())
}

func TestRun_LaterImportOverwrites(t *testing.T) {
	f := newImporterFixture(t, map[string]string{
		"a.csv": header + "X1,Foo,,\n",
		"b.csv": header + "x1,Bar,,\n",
	})
	ctx := context.Background()

	_, err := f.importer.Run(ctx, job("job-a", "a.csv", true))
	require.NoError(t, err)
	_, err = f.importer.Run(ctx, job("job-b", "b.csv", true))
	require.NoError(t, err)

	products := f.staging.snapshot()
	require.Len(t, products, 1)
	assert.Equal(t, "Bar", *products["x1"].name)
}

func TestRun_MissingHeaderColumnFailsWithoutMerge(t *testing.T) {
	f := newImporterFixture(t, map[string]string{
		"good.csv": header + "A1,Foo,,1\n",
		"bad.csv":  "sku,name,price\nA1,Changed,2\n",
	})
	ctx := context.Background()
	_, err := f.importer.Run(ctx, job("job-good", "good.csv", true))
	require.NoError(t, err)
	before := f.staging.snapshot()

	result, err := f.importer.Run(ctx, job("job-bad", "bad.csv", true))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrLoad))

	var impErr *apperrors.ImportError
	require.True(t, errors.As(err, &impErr))
	assert.Equal(t, "job-bad", impErr.JobID)
	assert.Equal(t, string(models.StatusCopyingCSV), impErr.Phase)

	events := f.progress.events("job-bad")
	last := events[len(events)-1]
	assert.Equal(t, models.StatusError, last.Status)
	assert.Equal(t, 100, last.Percent)
	assert.NotEmpty(t, last.Detail())
	assert.Equal(t, before, f.staging.snapshot())
}

func TestRun_UnreadableFileIsLoadError(t *testing.T) {
	f := newImporterFixture(t, nil)

	_, err := f.importer.Run(context.Background(), job("job-1", "missing.csv", true))
	assert.True(t, errors.Is(err, apperrors.ErrLoad))
	assert.Equal(t, models.StatusError, f.progress.docs["job-1"].Status)
}

func TestRun_MalformedRowIsLoadError(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\nA2,Bar\n"})

	_, err := f.importer.Run(context.Background(), job("job-1", "a.csv", true))
	assert.True(t, errors.Is(err, apperrors.ErrLoad))
	assert.Empty(t, f.staging.snapshot())
}

func TestRun_StagingPhaseFailures(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(s *fakeStaging)
		kind   error
		status models.ImportStatus
	}{
		{"prepare", func(s *fakeStaging) { s.prepareErr = errors.New("permission denied") }, apperrors.ErrLoad, models.StatusPreparingStaging},
		{"dedup", func(s *fakeStaging) { s.dedupErr = errors.New("disk full") }, apperrors.ErrLoad, models.StatusDeduplicating},
		{"upsert", func(s *fakeStaging) { s.upsertErr = errors.New("unique violation") }, apperrors.ErrMerge, models.StatusUpserting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\n"})
			tc.setup(f.staging)

			_, err := f.importer.Run(context.Background(), job("job-1", "a.csv", true))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.kind))

			var impErr *apperrors.ImportError
			require.True(t, errors.As(err, &impErr))
			assert.Equal(t, string(tc.status), impErr.Phase)

			events := f.progress.events("job-1")
			last := events[len(events)-1]
			assert.Equal(t, models.StatusError, last.Status)
			assert.Contains(t, last.Detail(), string(tc.status))
			assert.Empty(t, f.staging.released)
		})
	}
}

func TestRun_ProgressStoreFailureAbortsJob(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\n"})
	f.progress.setErr = func(ev models.ProgressEvent) error {
		if ev.Status == models.StatusDeduplicating {
			return errors.New("connection refused")
		}
		return nil
	}

	_, err := f.importer.Run(context.Background(), job("job-1", "a.csv", true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStore))
	assert.Empty(t, f.staging.snapshot())

	last := f.progress.docs["job-1"]
	assert.Equal(t, models.StatusError, last.Status)
	assert.Equal(t, 100, last.Percent)
	assert.Contains(t, last.Detail(), "connection refused")
}

func TestRun_ProgressStoreDownDropsErrorEvent(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\n"})
	f.progress.setErr = func(ev models.ProgressEvent) error {
		if ev.Status == models.StatusDeduplicating || ev.Status == models.StatusError {
			return errors.New("connection refused")
		}
		return nil
	}

	_, err := f.importer.Run(context.Background(), job("job-1", "a.csv", true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStore))
	assert.Equal(t, models.StatusCopiedToStaging, f.progress.docs["job-1"].Status)
}

func TestRun_InvalidJob(t *testing.T) {
	f := newImporterFixture(t, nil)

	_, err := f.importer.Run(context.Background(), job("job-1", "", true))
	assert.True(t, errors.Is(err, apperrors.ErrLoad))
	assert.Equal(t, models.StatusError, f.progress.docs["job-1"].Status)

	_, err = f.importer.Run(context.Background(), job("", "a.csv", true))
	assert.True(t, errors.Is(err, apperrors.ErrLoad))
	assert.Empty(t, f.progress.events(""))
}

func TestRun_ErrorEventSurvivesCancelledContext(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\n"})
	f.staging.prepareErr = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.importer.Run(ctx, job("job-1", "a.csv", true))
	require.Error(t, err)
	assert.Equal(t, models.StatusError, f.progress.docs["job-1"].Status)
}

func TestRun_RecordsMetricsAndEvents(t *testing.T) {
	f := newImporterFixture(t, map[string]string{
		"a.csv":   header + "A1,Foo,,1\n",
		"bad.csv": "nope\n",
	})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.importer.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, err := f.importer.Run(ctx, job("job-ok", "a.csv", true))
	require.NoError(t, err)
	_, err = f.importer.Run(ctx, job("job-bad", "bad.csv", true))
	require.Error(t, err)

	assert.Equal(t, []string{"ImportsSucceeded:ok", "ImportsFailed:LoadError"}, f.metrics.counts)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, EventImportCompleted, f.publisher.events[0].eventType)
	assert.Equal(t, EventImportFailed, f.publisher.events[1].eventType)

	var completed ImportEvent
	require.NoError(t, json.Unmarshal(f.publisher.events[0].body, &completed))
	assert.Equal(t, "job-ok", completed.JobID)
	assert.Equal(t, int64(1), completed.RowsUpserted)
	assert.Equal(t, "2026-01-02T03:04:05Z", completed.FinishedAt)

	var failed ImportEvent
	require.NoError(t, json.Unmarshal(f.publisher.events[1].body, &failed))
	assert.Equal(t, "error", failed.Status)
	assert.NotEmpty(t, failed.Detail)
}

func TestRun_PercentNeverDecreases(t *testing.T) {
	f := newImporterFixture(t, map[string]string{"a.csv": header + "A1,Foo,,1\n"})
	r := &jobRun{job: job("job-1", "a.csv", true), logger: zap.NewNop()}
	ctx := context.Background()

	require.NoError(t, f.importer.publish(ctx, r, models.NewProgressEvent(models.StatusUpserting)))
	require.NoError(t, f.importer.publish(ctx, r, models.NewProgressEvent(models.StatusCopyingCSV)))

	events := f.progress.events("job-1")
	assert.Equal(t, 75, events[1].Percent)
}
