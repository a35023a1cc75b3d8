// internal/crawler/crawler_test.go
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saadkhi/crawl-pipeline/internal/model"
	"github.com/saadkhi/crawl-pipeline/internal/upstream"
)

// MockStore is a mock of the PageStore interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadCursor(ctx context.Context, streamID string) (*string, error) {
	args := m.Called(ctx, streamID)
	cursor, _ := args.Get(0).(*string)
	return cursor, args.Error(1)
}

func (m *MockStore) PersistPage(ctx context.Context, streamID string, page *model.Page, observedAt time.Time) (int, error) {
	args := m.Called(ctx, streamID, page, observedAt)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) SaveCursor(ctx context.Context, streamID string, cursor *string, runTime time.Time) error {
	args := m.Called(ctx, streamID, cursor, runTime)
	return args.Error(0)
}

// MockFetcher is a mock of the PageFetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchPage(ctx context.Context, query string, cursor *string, pageSize int) (*model.Page, error) {
	args := m.Called(ctx, query, cursor, pageSize)
	page, _ := args.Get(0).(*model.Page)
	return page, args.Error(1)
}

// MockMeta is a mock of the MetaFetcher interface.
type MockMeta struct {
	mock.Mock
}

func (m *MockMeta) FetchMeta(ctx context.Context, owner, name string) (json.RawMessage, error) {
	args := m.Called(ctx, owner, name)
	payload, _ := args.Get(0).(json.RawMessage)
	return payload, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func record(id string, stars int) model.SearchRecord {
	return model.SearchRecord{
		Repo:  model.RepoRecord{ID: id, Owner: "o", Name: id, FullName: "o/" + id},
		Stars: stars,
	}
}

func strptr(s string) *string { return &s }

func TestCrawler_TwoPageRun(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	page1 := &model.Page{
		Records:    []model.SearchRecord{record("A", 10), record("B", 5)},
		NextCursor: strptr("cur1"),
		HasMore:    true,
	}
	page2 := &model.Page{
		Records:    []model.SearchRecord{record("C", 20)},
		NextCursor: nil,
		HasMore:    false,
	}

	mockStore.On("LoadCursor", ctx, "stars").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", ctx, "q", (*string)(nil), 2).Return(page1, nil).Once()
	mockStore.On("PersistPage", ctx, "stars", page1, mock.Anything).Return(2, nil).Once()
	mockFetcher.On("FetchPage", ctx, "q", strptr("cur1"), 2).Return(page2, nil).Once()
	mockStore.On("PersistPage", ctx, "stars", page2, mock.Anything).Return(1, nil).Once()

	c := New(mockStore, mockFetcher, nil, 2, 1, testLogger())
	report, err := c.Run(ctx, Stream{ID: "stars", Query: "q"}, 10)

	require.NoError(t, err)
	assert.Equal(t, Report{Pages: 2, Records: 3, Written: 3}, report)
	mockStore.AssertExpectations(t)
	mockFetcher.AssertExpectations(t)
	// page2 carries a nil NextCursor, so the final persisted cursor is nil.
	assert.Nil(t, page2.NextCursor)
}

func TestCrawler_ResumesFromSavedCursor(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	page2 := &model.Page{Records: []model.SearchRecord{record("C", 20)}, HasMore: false}

	mockStore.On("LoadCursor", ctx, "stars").Return(strptr("cur1"), nil).Once()
	mockFetcher.On("FetchPage", ctx, "q", strptr("cur1"), 100).Return(page2, nil).Once()
	mockStore.On("PersistPage", ctx, "stars", page2, mock.Anything).Return(1, nil).Once()

	c := New(mockStore, mockFetcher, nil, 100, 1, testLogger())
	report, err := c.Run(ctx, Stream{ID: "stars", Query: "q"}, 10)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	mockFetcher.AssertExpectations(t)
}

func TestCrawler_StartCursorOverrideSkipsLoad(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	page := &model.Page{HasMore: false}
	mockFetcher.On("FetchPage", ctx, "q", strptr("override"), 100).Return(page, nil).Once()
	mockStore.On("PersistPage", ctx, "stars", page, mock.Anything).Return(0, nil).Once()

	c := New(mockStore, mockFetcher, nil, 100, 1, testLogger())
	_, err := c.Run(ctx, Stream{ID: "stars", Query: "q", StartCursor: strptr("override")}, 10)

	require.NoError(t, err)
	mockStore.AssertNotCalled(t, "LoadCursor")
}

func TestCrawler_RespectsPageLimit(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	page := &model.Page{
		Records:    []model.SearchRecord{record("A", 1)},
		NextCursor: strptr("next"),
		HasMore:    true,
	}

	mockStore.On("LoadCursor", ctx, "stars").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", ctx, "q", mock.Anything, 100).Return(page, nil).Twice()
	mockStore.On("PersistPage", ctx, "stars", page, mock.Anything).Return(1, nil).Twice()

	c := New(mockStore, mockFetcher, nil, 100, 1, testLogger())
	report, err := c.Run(ctx, Stream{ID: "stars", Query: "q"}, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages)
	mockFetcher.AssertNumberOfCalls(t, "FetchPage", 2)
}

func TestCrawler_FatalFetchAbortsWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	fatal := &upstream.Error{Kind: upstream.KindNonRetryable, Status: 422, Message: "invalid query"}
	mockStore.On("LoadCursor", ctx, "stars").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", ctx, "bad", (*string)(nil), 100).Return(nil, fatal).Once()

	c := New(mockStore, mockFetcher, nil, 100, 1, testLogger())
	report, err := c.Run(ctx, Stream{ID: "stars", Query: "bad"}, 10)

	require.Error(t, err)
	var uerr *upstream.Error
	assert.ErrorAs(t, err, &uerr)
	assert.Zero(t, report.Pages)
	mockStore.AssertNotCalled(t, "PersistPage")
	mockStore.AssertNotCalled(t, "SaveCursor")
}

func TestCrawler_StoreFailureHaltsRun(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	page1 := &model.Page{
		Records:    []model.SearchRecord{record("A", 10)},
		NextCursor: strptr("cur1"),
		HasMore:    true,
	}

	mockStore.On("LoadCursor", ctx, "stars").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", ctx, "q", (*string)(nil), 100).Return(page1, nil).Once()
	mockStore.On("PersistPage", ctx, "stars", page1, mock.Anything).
		Return(0, errors.New("connection reset")).Once()

	c := New(mockStore, mockFetcher, nil, 100, 1, testLogger())
	report, err := c.Run(ctx, Stream{ID: "stars", Query: "q"}, 10)

	require.Error(t, err)
	assert.Zero(t, report.Pages, "the failed page does not count as completed")
	mockFetcher.AssertNumberOfCalls(t, "FetchPage", 1)
}

func TestCrawler_EnrichAttachesMetaBestEffort(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)
	mockMeta := new(MockMeta)

	page := &model.Page{
		Records: []model.SearchRecord{record("A", 1), record("B", 2)},
		HasMore: false,
	}

	mockStore.On("LoadCursor", ctx, "stars").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", ctx, "q", (*string)(nil), 100).Return(page, nil).Once()
	mockMeta.On("FetchMeta", ctx, "o", "A").Return(json.RawMessage(`{"topics":["x"]}`), nil).Once()
	mockMeta.On("FetchMeta", ctx, "o", "B").Return(nil, errors.New("boom")).Once()
	mockStore.On("PersistPage", ctx, "stars", page, mock.Anything).Return(2, nil).Once()

	c := New(mockStore, mockFetcher, mockMeta, 100, 1, testLogger())
	_, err := c.Run(ctx, Stream{ID: "stars", Query: "q"}, 10)

	require.NoError(t, err)
	assert.JSONEq(t, `{"topics":["x"]}`, string(page.Records[0].Meta))
	assert.Nil(t, page.Records[1].Meta, "a failed enrichment leaves the record bare")
	mockMeta.AssertExpectations(t)
}

func TestCrawler_RunAllIsolatesStreamFailures(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockFetcher := new(MockFetcher)

	good := &model.Page{Records: []model.SearchRecord{record("A", 1)}, HasMore: false}
	fatal := &upstream.Error{Kind: upstream.KindNonRetryable, Message: "bad"}

	mockStore.On("LoadCursor", mock.Anything, "ok").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", mock.Anything, "good", (*string)(nil), 100).Return(good, nil).Once()
	mockStore.On("PersistPage", mock.Anything, "ok", good, mock.Anything).Return(1, nil).Once()

	mockStore.On("LoadCursor", mock.Anything, "broken").Return((*string)(nil), nil).Once()
	mockFetcher.On("FetchPage", mock.Anything, "bad", (*string)(nil), 100).Return(nil, fatal).Once()

	c := New(mockStore, mockFetcher, nil, 100, 2, testLogger())
	report, err := c.RunAll(ctx, []Stream{
		{ID: "ok", Query: "good"},
		{ID: "broken", Query: "bad"},
	}, 10)

	require.Error(t, err)
	assert.Equal(t, 1, report.Pages, "the healthy stream's progress survives")
	assert.Equal(t, 1, report.Records)
}
