package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zangezia/DLGuard/internal/browser"
	"github.com/zangezia/DLGuard/internal/browser/browsertest"
	"github.com/zangezia/DLGuard/pkg/models"
)

type memoryStore struct {
	saved *models.PendingDownload
	err   error
}

func (m *memoryStore) SavePending(ctx context.Context, p models.PendingDownload) error {
	if m.err != nil {
		return m.err
	}
	m.saved = &p
	return nil
}

func setup() (*browsertest.Browser, *memoryStore, *Interceptor) {
	b := browsertest.New()
	s := &memoryStore{}
	return b, s, New(b, b, s)
}

func TestPausesStoresAndPrompts(t *testing.T) {
	b, s, i := setup()
	item := browser.DownloadItem{ID: 1, URL: "https://example.com/big.iso", Filename: "/home/me/Downloads/big.iso", FileSize: 4096}
	b.Add(item)

	outcome := i.OnCreated(context.Background(), item)

	assert.Equal(t, Prompted, outcome)
	assert.True(t, b.Called("pause:1"))
	assert.True(t, b.Called("openPopup"))
	assert.False(t, b.Called("cancel:1"))

	require.NotNil(t, s.saved)
	assert.Equal(t, models.PendingDownload{ID: 1, URL: item.URL, Filename: item.Filename, FileSize: 4096}, *s.saved)

	current, _ := b.Item(1)
	assert.True(t, current.Paused)
}

func TestPopupFailureSetsBadge(t *testing.T) {
	b, s, i := setup()
	b.Add(browser.DownloadItem{ID: 2})
	b.Fail("openPopup", errors.New("popup already open"))

	outcome := i.OnCreated(context.Background(), browser.DownloadItem{ID: 2})

	assert.Equal(t, Badged, outcome)
	assert.Equal(t, BadgeText, b.GetBadge())
	assert.NotNil(t, s.saved)
}

func TestNotInProgressIsIgnored(t *testing.T) {
	b, s, i := setup()
	b.Fail("pause", &browser.Error{Method: "downloads.pause", Message: "Download must be in progress"})

	outcome := i.OnCreated(context.Background(), browser.DownloadItem{ID: 3})

	assert.Equal(t, Skipped, outcome)
	assert.False(t, b.Called("cancel:3"))
	assert.Nil(t, s.saved)
}

func TestOtherPauseFailureCancels(t *testing.T) {
	b, s, i := setup()
	b.Fail("pause", errors.New("bridge exploded"))

	outcome := i.OnCreated(context.Background(), browser.DownloadItem{ID: 4})

	assert.Equal(t, Cancelled, outcome)
	assert.True(t, b.Called("cancel:4"))
	assert.Nil(t, s.saved)
}

func TestRecheckSkipsFinishedDownload(t *testing.T) {
	b, s, i := setup()
	b.Add(browser.DownloadItem{ID: 5, State: browser.StateComplete})

	outcome := i.OnCreated(context.Background(), browser.DownloadItem{ID: 5})

	assert.Equal(t, Skipped, outcome)
	assert.Nil(t, s.saved)
	assert.False(t, b.Called("openPopup"))
}

func TestRecheckPicksUpFinalFilename(t *testing.T) {
	b, s, i := setup()
	b.Add(browser.DownloadItem{ID: 6, Filename: "/home/me/Downloads/report (1).pdf"})

	i.OnCreated(context.Background(), browser.DownloadItem{ID: 6, Filename: ""})

	require.NotNil(t, s.saved)
	assert.Equal(t, "/home/me/Downloads/report (1).pdf", s.saved.Filename)
}

func TestStoreFailureCancels(t *testing.T) {
	b, s, i := setup()
	b.Add(browser.DownloadItem{ID: 7})
	s.err = errors.New("disk full, ironically")

	outcome := i.OnCreated(context.Background(), browser.DownloadItem{ID: 7})

	assert.Equal(t, Cancelled, outcome)
	assert.True(t, b.Called("cancel:7"))
	assert.False(t, b.Called("openPopup"))
}

func TestLastDownloadWins(t *testing.T) {
	b, s, i := setup()
	b.Add(browser.DownloadItem{ID: 8})
	b.Add(browser.DownloadItem{ID: 9})

	i.OnCreated(context.Background(), browser.DownloadItem{ID: 8})
	i.OnCreated(context.Background(), browser.DownloadItem{ID: 9})

	require.NotNil(t, s.saved)
	assert.Equal(t, 9, s.saved.ID)
}

func TestPendingFallsBackToTotalBytes(t *testing.T) {
	item := browser.DownloadItem{ID: 1, FileSize: 0, TotalBytes: 2048}
	assert.Equal(t, int64(2048), item.Pending().FileSize)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "badged", Badged.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
