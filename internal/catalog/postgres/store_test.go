package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

var entryColumns = []string{
	"id", "source_url", "vendor", "status", "title", "price", "currency", "attributes", "last_scraped_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "catalog_entries", fixedIDs{id: "entry-1"})
	require.NoError(t, err)
	return store, mock
}

func TestGetBySourceURLScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scraped := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT id, source_url, vendor").
		WithArgs("https://acme.example/1").
		WillReturnRows(pgxmock.NewRows(entryColumns).AddRow(
			"entry-1", "https://acme.example/1", "acme", crawler.StatusLocked,
			"Widget", "9.99", "USD", []byte(`{"color":"red"}`), scraped,
		))

	entry, err := store.GetBySourceURL(context.Background(), "https://acme.example/1")
	require.NoError(t, err)
	require.Equal(t, crawler.Entry{
		ID:            "entry-1",
		SourceURL:     "https://acme.example/1",
		Vendor:        "acme",
		Status:        crawler.StatusLocked,
		Title:         "Widget",
		Price:         "9.99",
		Currency:      "USD",
		Attributes:    map[string]string{"color": "red"},
		LastScrapedAt: scraped,
	}, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySourceURLMiss(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, source_url, vendor").
		WithArgs("https://acme.example/404").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetBySourceURL(context.Background(), "https://acme.example/404")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scraped := time.Unix(1700000000, 0).UTC()
	data := crawler.ItemData{
		SourceURL: "https://acme.example/1",
		Vendor:    "acme",
		Status:    crawler.StatusActive,
		Title:     "Widget",
		ScrapedAt: scraped,
	}
	mock.ExpectExec("INSERT INTO catalog_entries").
		WithArgs("entry-1", data.SourceURL, "acme", "ACTIVE", "Widget", "", "", []byte(`{}`), scraped).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry, err := store.Create(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, "entry-1", entry.ID)
	require.Equal(t, scraped, entry.LastScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE catalog_entries").
		WithArgs("entry-9", "acme", "SOLD_OUT", "", "", "", []byte(`{}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := store.Update(context.Background(),
		crawler.Entry{ID: "entry-9", SourceURL: "u"},
		crawler.ItemData{Vendor: "acme", Status: crawler.StatusSoldOut},
	)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateKeepsSourceURL(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE catalog_entries").
		WithArgs("entry-1", "acme", "ACTIVE", "New", "", "", []byte(`{"a":"b"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	entry, err := store.Update(context.Background(),
		crawler.Entry{ID: "entry-1", SourceURL: "https://acme.example/1"},
		crawler.ItemData{Vendor: "acme", Status: crawler.StatusActive, Title: "New", Attributes: map[string]string{"a": "b"}},
	)
	require.NoError(t, err)
	require.Equal(t, "https://acme.example/1", entry.SourceURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisableSetsStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE catalog_entries SET status").
		WithArgs("entry-1", "DISABLED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Disable(context.Background(), crawler.Entry{ID: "entry-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE catalog_entries SET status").
		WithArgs("entry-1", "DISABLED").
		WillReturnError(errors.New("connection reset"))

	err := store.Disable(context.Background(), crawler.Entry{ID: "entry-1"})
	require.ErrorContains(t, err, "disable catalog entry: connection reset")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog_entries").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "", fixedIDs{})
	require.Error(t, err)
	_, err = NewWithPool(mock, "bad-name;", fixedIDs{})
	require.Error(t, err)
	_, err = NewWithPool(mock, "", nil)
	require.Error(t, err)
}
