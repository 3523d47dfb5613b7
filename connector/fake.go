package connector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Fake is an in-memory Connector for tests and local development. Records
// are seeded per entity type and served in fixed-size pages; health and
// fetch failures can be injected.
type Fake struct {
	integrationType string
	pageSize        int

	mu        sync.Mutex
	records   map[types.EntityType][]Record
	healthErr error
	fetchErr  error

	fetchCalls  int64
	healthCalls int64
}

// NewFake creates a fake connector for the given integration type.
func NewFake(integrationType string, pageSize int) *Fake {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Fake{
		integrationType: integrationType,
		pageSize:        pageSize,
		records:         make(map[types.EntityType][]Record),
	}
}

// Seed replaces the records served for an entity type.
func (f *Fake) Seed(entityType types.EntityType, records []Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[entityType] = records
}

// SetHealthError makes CheckHealth fail with err until cleared with nil.
func (f *Fake) SetHealthError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

// SetFetchError makes Fetch fail with err until cleared with nil.
func (f *Fake) SetFetchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// FetchCalls returns how many pages were requested.
func (f *Fake) FetchCalls() int64 { return atomic.LoadInt64(&f.fetchCalls) }

// Type implements Connector.
func (f *Fake) Type() string { return f.integrationType }

// SupportedEntityTypes implements Connector: whatever has been seeded.
func (f *Fake) SupportedEntityTypes() []types.EntityType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.EntityType, 0, len(f.records))
	for et := range f.records {
		out = append(out, et)
	}
	return out
}

// CheckHealth implements Connector.
func (f *Fake) CheckHealth(_ context.Context) error {
	atomic.AddInt64(&f.healthCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

// Fetch implements Connector. The cursor is the decimal offset of the next
// record.
func (f *Fake) Fetch(_ context.Context, req PageRequest) (*Page, error) {
	atomic.AddInt64(&f.fetchCalls, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	all, ok := f.records[req.EntityType]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedEntityType,
			"Fake", "Fetch", fmt.Sprintf("entity type %q", req.EntityType))
	}

	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Fake", "Fetch", "parse cursor")
		}
		offset = n
	}

	size := req.PageSize
	if size <= 0 {
		size = f.pageSize
	}

	end := offset + size
	if end > len(all) {
		end = len(all)
	}
	page := &Page{
		Records: all[offset:end],
		Total:   len(all),
		HasMore: end < len(all),
	}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}
