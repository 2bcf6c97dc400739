package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"product-importer/models"
	"product-importer/repository"

	"github.com/jackc/pgx/v5"
)

type fakeProgressStore struct {
	mu      sync.Mutex
	docs    map[string]models.ProgressEvent
	history map[string][]models.ProgressEvent
	setErr  func(event models.ProgressEvent) error
	getErr  error
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{
		docs:    map[string]models.ProgressEvent{},
		history: map[string][]models.ProgressEvent{},
	}
}

func (f *fakeProgressStore) Set(ctx context.Context, jobID string, event models.ProgressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		if err := f.setErr(event); err != nil {
			return err
		}
	}
	f.docs[jobID] = event
	f.history[jobID] = append(f.history[jobID], event)
	return nil
}

func (f *fakeProgressStore) Get(ctx context.Context, jobID string) (*models.ProgressEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	event, ok := f.docs[jobID]
	if !ok {
		return nil, repository.ErrProgressNotFound
	}
	return &event, nil
}

func (f *fakeProgressStore) delete(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, jobID)
}

func (f *fakeProgressStore) events(jobID string) []models.ProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProgressEvent(nil), f.history[jobID]...)
}

type product struct {
	sku         string
	name        *string
	description *string
	price       *string
	active      bool
}

// fakeStaging keeps staging tables and products in memory with the same
// dedup and upsert rules as the postgres repository.
type fakeStaging struct {
	mu         sync.Mutex
	tables     map[string][]models.StagingRow
	products   map[string]product
	released   []string
	prepareErr error
	dedupErr   error
	upsertErr  error
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{
		tables:   map[string][]models.StagingRow{},
		products: map[string]product{},
	}
}

func (f *fakeStaging) Prepare(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prepareErr != nil {
		return f.prepareErr
	}
	f.tables[jobID] = nil
	return nil
}

func (f *fakeStaging) Load(ctx context.Context, jobID string, rows pgx.CopyFromSource) (int64, error) {
	var loaded []models.StagingRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return 0, err
		}
		loaded = append(loaded, models.StagingRow{
			SequenceID:  values[0].(int64),
			SKU:         values[1].(string),
			Name:        values[2].(*string),
			Description: values[3].(*string),
			Price:       values[4].(*string),
		})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[jobID] = append(f.tables[jobID], loaded...)
	return int64(len(loaded)), nil
}

func (f *fakeStaging) Deduplicate(ctx context.Context, jobID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dedupErr != nil {
		return 0, f.dedupErr
	}
	latest := map[string]models.StagingRow{}
	for _, row := range f.tables[jobID] {
		row.NormalizedKey = models.NormalizeSKU(row.SKU)
		if cur, ok := latest[row.NormalizedKey]; !ok || row.SequenceID > cur.SequenceID {
			latest[row.NormalizedKey] = row
		}
	}
	kept := make([]models.StagingRow, 0, len(latest))
	for _, row := range latest {
		kept = append(kept, row)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].SequenceID < kept[j].SequenceID })
	removed := int64(len(f.tables[jobID]) - len(kept))
	f.tables[jobID] = kept
	return removed, nil
}

func (f *fakeStaging) Upsert(ctx context.Context, jobID string, active bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	for _, row := range f.tables[jobID] {
		f.products[row.NormalizedKey] = product{
			sku:         row.SKU,
			name:        row.Name,
			description: row.Description,
			price:       row.Price,
			active:      active,
		}
	}
	return int64(len(f.tables[jobID])), nil
}

func (f *fakeStaging) Release(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, jobID)
	f.released = append(f.released, jobID)
	return nil
}

func (f *fakeStaging) snapshot() map[string]product {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]product, len(f.products))
	for k, v := range f.products {
		out[k] = v
	}
	return out
}

type fakeSource struct {
	files map[string]string
}

func (f fakeSource) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, errors.New("no such file"))
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts []string
}

func (f *fakeMetrics) RecordCount(ctx context.Context, name string, dims map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, name+":"+dims["Outcome"])
	return nil
}

func (f *fakeMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}

func (f *fakeMetrics) RecordValue(context.Context, string, float64, map[string]string) error {
	return nil
}

type publishedEvent struct {
	eventType string
	body      []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(ctx context.Context, eventType string, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{eventType: eventType, body: message})
	return nil
}
