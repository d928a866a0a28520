package popup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zangezia/DLGuard/internal/browser"
	"github.com/zangezia/DLGuard/internal/browser/browsertest"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/pkg/models"
)

type memoryStore struct {
	mu      sync.Mutex
	pending *models.PendingDownload
}

func (m *memoryStore) LoadPending(ctx context.Context) (*models.PendingDownload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil, nil
	}
	p := *m.pending
	return &p, nil
}

func (m *memoryStore) ClearPending(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

func (m *memoryStore) set(p *models.PendingDownload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = p
}

func (m *memoryStore) get() *models.PendingDownload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

type fakeDisk struct {
	mu         sync.Mutex
	info       *models.DiskInfo
	infoErr    error
	result     *models.CheckResult
	checkErr   error
	checks     int
	lastSize   int64
	lastPath   string
	infoCalled int
}

func (f *fakeDisk) Info(ctx context.Context, path string) (*models.DiskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalled++
	f.lastPath = path
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeDisk) Check(ctx context.Context, size int64, path string) (*models.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	f.lastSize = size
	f.lastPath = path
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.result, nil
}

func (f *fakeDisk) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

type fakeWindow struct {
	mu     sync.Mutex
	views  []View
	closed int
}

func (w *fakeWindow) Render(v View) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.views = append(w.views, v)
}

func (w *fakeWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
}

func (w *fakeWindow) closedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type fixture struct {
	browser *browsertest.Browser
	store   *memoryStore
	disk    *fakeDisk
	win     *fakeWindow
	popup   *Popup
}

var fastTimings = config.Popup{
	ResumeCloseDelay: 10 * time.Millisecond,
	ErrorCloseDelay:  20 * time.Millisecond,
}

func newFixture(t *testing.T, pending *models.PendingDownload) *fixture {
	t.Helper()

	f := &fixture{
		browser: browsertest.New(),
		store:   &memoryStore{},
		disk: &fakeDisk{
			info:   &models.DiskInfo{OK: true, Path: "/home/me/Downloads", FreeGB: 50, UsedGB: 50, TotalGB: 100, PercentUsed: 50},
			result: &models.CheckResult{OK: true},
		},
		win: &fakeWindow{},
	}
	if pending != nil {
		f.store.set(pending)
		f.browser.Add(browser.DownloadItem{ID: pending.ID, Filename: pending.Filename, Paused: true})
	}
	f.popup = New(f.store, f.browser, f.browser, f.disk, f.win, fastTimings)
	return f
}

func samplePending() *models.PendingDownload {
	return &models.PendingDownload{
		ID:       11,
		URL:      "https://example.com/dataset.tar",
		Filename: "/home/me/Downloads/dataset.tar",
		FileSize: 3 * 1024 * 1024,
	}
}

// downloadSettled reports whether the download left the paused state
func (f *fixture) downloadSettled(id int) bool {
	item, _ := f.browser.Item(id)
	return !item.Paused
}

func TestOpenWithoutPending(t *testing.T) {
	f := newFixture(t, nil)

	view := f.popup.Open(context.Background())

	assert.Equal(t, StatusEmpty, view.Status)
	assert.Equal(t, MsgNoPending, view.Message)
	assert.True(t, view.ActionsDisabled)
	assert.Zero(t, f.disk.infoCalled)

	// Confirm is a no-op without a download
	f.popup.Confirm(context.Background(), "10")
	assert.Zero(t, f.disk.checkCount())
}

func TestOpenShowsDownloadAndDisk(t *testing.T) {
	f := newFixture(t, samplePending())

	view := f.popup.Open(context.Background())

	assert.Equal(t, StatusWaiting, view.Status)
	assert.False(t, view.ActionsDisabled)
	assert.Equal(t, "/home/me/Downloads", view.Path)
	assert.Equal(t, "/home/me/Downloads", f.disk.lastPath)
	assert.Equal(t, "3.00 MB", view.FileSize)
	assert.Equal(t, "3.00", view.SizeInput)
	require.NotNil(t, view.Disk)
	assert.Equal(t, 50.0, view.Disk.PercentFree)
	assert.Equal(t, BarHigh, view.Disk.BarClass)
	assert.True(t, f.browser.Called("setBadge"), "badge should be cleared")
	assert.NotEmpty(t, f.win.views)
}

func TestOpenDiskServiceError(t *testing.T) {
	f := newFixture(t, samplePending())
	f.disk.infoErr = &diskinfo.ServiceError{Message: "Path '/x' not accessible"}

	view := f.popup.Open(context.Background())

	assert.Equal(t, MsgDiskLoadFailed, view.DiskError)
	assert.Nil(t, view.Disk)
	assert.False(t, view.ActionsDisabled)
	assert.False(t, f.browser.Called("cancel:11"))
}

func TestOpenServiceUnreachable(t *testing.T) {
	f := newFixture(t, samplePending())
	f.disk.infoErr = fmt.Errorf("%w: connection refused", diskinfo.ErrUnavailable)

	view := f.popup.Open(context.Background())

	assert.Equal(t, MsgUnreachable, view.Error)
	assert.True(t, view.ActionsDisabled)
	assert.True(t, f.browser.Called("cancel:11"))
	assert.True(t, f.downloadSettled(11))

	require.Eventually(t, func() bool { return f.win.closedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, f.store.get())
	assert.Equal(t, StatusClosed, f.popup.View().Status)
}

func TestConfirmRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "abc", "0", "-5", "NaN", "Inf", "   "} {
		t.Run(input, func(t *testing.T) {
			f := newFixture(t, samplePending())
			f.popup.Open(context.Background())

			view := f.popup.Confirm(context.Background(), input)

			assert.Equal(t, MsgInvalidSize, view.Error)
			assert.Zero(t, f.disk.checkCount())
			assert.False(t, view.ActionsDisabled)
			assert.False(t, f.browser.Called("cancel:11"))
		})
	}
}

func TestConfirmNotEnoughSpace(t *testing.T) {
	f := newFixture(t, samplePending())
	f.disk.result = &models.CheckResult{OK: false, Error: "Not enough space. Free: 1.00 GB, Required: 6.00 GB"}
	f.popup.Open(context.Background())

	view := f.popup.Confirm(context.Background(), "1024")

	assert.Contains(t, view.Error, "Not enough space. Free: 1.00 GB, Required: 6.00 GB")
	assert.True(t, f.browser.Called("cancel:11"))
	assert.False(t, f.browser.Called("resume:11"))
	assert.True(t, view.ActionsDisabled)
	assert.Equal(t, StatusCancelled, view.Status)
	assert.Nil(t, f.store.get())
	assert.True(t, f.downloadSettled(11))
}

func TestConfirmResumesAndCloses(t *testing.T) {
	f := newFixture(t, samplePending())
	f.popup.Open(context.Background())

	view := f.popup.Confirm(context.Background(), "1.5")

	assert.Equal(t, StatusResumed, view.Status)
	assert.Equal(t, int64(1572864), f.disk.lastSize)
	assert.Equal(t, "/home/me/Downloads", f.disk.lastPath)
	assert.True(t, f.browser.Called("resume:11"))
	assert.False(t, f.browser.Called("cancel:11"))
	assert.Equal(t, 2, f.disk.infoCalled, "disk info refreshed after resume")
	assert.True(t, f.downloadSettled(11))

	require.Eventually(t, func() bool { return f.win.closedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, f.store.get())
}

func TestConfirmServiceUnreachable(t *testing.T) {
	f := newFixture(t, samplePending())
	f.popup.Open(context.Background())
	f.disk.checkErr = fmt.Errorf("%w: no response from native host", diskinfo.ErrUnavailable)

	view := f.popup.Confirm(context.Background(), "100")

	assert.Equal(t, MsgUnreachable, view.Error)
	assert.True(t, f.browser.Called("cancel:11"))

	require.Eventually(t, func() bool { return f.win.closedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, f.store.get())
}

func TestConfirmResumeFailureCancels(t *testing.T) {
	f := newFixture(t, samplePending())
	f.browser.Fail("resume", &browser.Error{Method: "downloads.resume", Message: "Download must be paused"})
	f.popup.Open(context.Background())

	view := f.popup.Confirm(context.Background(), "100")

	assert.Equal(t, MsgResumeFailed, view.Error)
	assert.True(t, f.browser.Called("cancel:11"))
	assert.Equal(t, StatusCancelled, view.Status)
	assert.Nil(t, f.store.get())
}

func TestCancel(t *testing.T) {
	f := newFixture(t, samplePending())
	f.popup.Open(context.Background())

	view := f.popup.Cancel(context.Background())

	assert.Equal(t, StatusClosed, view.Status)
	assert.True(t, f.browser.Called("cancel:11"))
	assert.Nil(t, f.store.get())
	assert.Equal(t, 1, f.win.closedCount())
}

func TestCancelClearsEvenWhenBrowserFails(t *testing.T) {
	f := newFixture(t, samplePending())
	f.browser.Fail("cancel", errors.New("no such download"))
	f.popup.Open(context.Background())

	f.popup.Cancel(context.Background())

	assert.Nil(t, f.store.get())
	assert.Equal(t, 1, f.win.closedCount())
}

func TestCancelWithoutOpen(t *testing.T) {
	f := newFixture(t, samplePending())

	f.popup.Cancel(context.Background())

	assert.True(t, f.browser.Called("cancel:11"))
	assert.Nil(t, f.store.get())
}

func TestCloseKeepsNewerPending(t *testing.T) {
	f := newFixture(t, samplePending())
	f.popup.cfg.ResumeCloseDelay = 50 * time.Millisecond
	f.popup.Open(context.Background())
	f.popup.Confirm(context.Background(), "1")

	// another download got intercepted before the popup closed
	newer := &models.PendingDownload{ID: 12, Filename: "/tmp/other.bin"}
	f.store.set(newer)

	require.Eventually(t, func() bool { return f.win.closedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, f.store.get())
	assert.Equal(t, 12, f.store.get().ID)
}

func TestReopenStopsPendingClose(t *testing.T) {
	f := newFixture(t, samplePending())
	f.popup.cfg.ResumeCloseDelay = 50 * time.Millisecond
	f.popup.Open(context.Background())
	f.popup.Confirm(context.Background(), "1")

	f.store.set(&models.PendingDownload{ID: 13, Filename: "/tmp/next.bin"})
	f.browser.Add(browser.DownloadItem{ID: 13, Paused: true})
	view := f.popup.Open(context.Background())
	assert.Equal(t, 13, view.DownloadID)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.win.closedCount())
	assert.Equal(t, StatusWaiting, f.popup.View().Status)
}

func TestErrorBannerHides(t *testing.T) {
	f := newFixture(t, samplePending())
	f.popup.cfg.ErrorDisplay = 10 * time.Millisecond
	f.popup.Open(context.Background())

	view := f.popup.Confirm(context.Background(), "nope")
	assert.Equal(t, MsgInvalidSize, view.Error)

	require.Eventually(t, func() bool { return f.popup.View().Error == "" }, time.Second, 5*time.Millisecond)
}

func TestDownloadDir(t *testing.T) {
	testCases := []struct {
		filename string
		want     string
	}{
		{"/home/me/Downloads/file.txt", "/home/me/Downloads"},
		{"relative/dir/file.txt", "relative/dir"},
		{"file.txt", "/"},
		{"", "/"},
		{"/file.txt", "/"},
		{`C:\Users\me\Downloads\setup.exe`, `C:\Users\me\Downloads`},
		{`C:\setup.exe`, `C:\`},
	}

	for _, tc := range testCases {
		t.Run(tc.filename, func(t *testing.T) {
			assert.Equal(t, tc.want, DownloadDir(tc.filename))
		})
	}
}

func TestBarClass(t *testing.T) {
	testCases := []struct {
		free float64
		want string
	}{
		{0, BarLow},
		{9.99, BarLow},
		{10, BarMedium},
		{24.99, BarMedium},
		{25, BarHigh},
		{100, BarHigh},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, BarClass(tc.free), "free=%v", tc.free)
	}
}

func TestParseSizeMB(t *testing.T) {
	mb, ok := ParseSizeMB(" 12.5 ")
	assert.True(t, ok)
	assert.Equal(t, 12.5, mb)

	for _, bad := range []string{"", "x", "0", "-1", "NaN", "+Inf", "1e400"} {
		_, ok := ParseSizeMB(bad)
		assert.False(t, ok, bad)
	}

	// Estimates beyond int64 bytes parse but saturate when converted
	for _, huge := range []string{"1e13", "1e300"} {
		mb, ok := ParseSizeMB(huge)
		require.True(t, ok, huge)
		assert.Equal(t, int64(math.MaxInt64), MBToBytes(mb), huge)
	}
	assert.Equal(t, int64(1572864), MBToBytes(1.5))
}

func TestConfirmOversizedEstimateCancels(t *testing.T) {
	dir := t.TempDir()
	pending := &models.PendingDownload{ID: 21, Filename: filepath.Join(dir, "huge.iso")}

	f := newFixture(t, pending)
	local := diskinfo.NewLocal(config.Default().Service).
		WithUsage(func(ctx context.Context, path string) (*disk.UsageStat, error) {
			return &disk.UsageStat{Path: path, Total: 100e9, Used: 50e9, Free: 50e9}, nil
		})
	f.popup = New(f.store, f.browser, f.browser, local, f.win, fastTimings)
	f.popup.Open(context.Background())

	view := f.popup.Confirm(context.Background(), "1e13")

	assert.Equal(t, StatusCancelled, view.Status)
	assert.Contains(t, view.Error, "Not enough space")
	assert.True(t, f.browser.Called("cancel:21"))
	assert.False(t, f.browser.Called("resume:21"))
	assert.Nil(t, f.store.get())
}

func TestDisplayName(t *testing.T) {
	short := &models.PendingDownload{Filename: "/tmp/a.zip"}
	assert.Equal(t, "/tmp/a.zip", DisplayName(short))

	unnamed := &models.PendingDownload{URL: "https://example.com/x"}
	assert.Equal(t, "https://example.com/x", DisplayName(unnamed))

	long := &models.PendingDownload{Filename: "/tmp/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.bin"}
	name := DisplayName(long)
	assert.Len(t, []rune(name), 53)
	assert.Equal(t, "...", name[len(name)-3:])
}

func TestFormatSizeMB(t *testing.T) {
	assert.Equal(t, "Unknown", FormatSizeMB(0))
	assert.Equal(t, "Unknown", FormatSizeMB(-1))
	assert.Equal(t, "1.50 MB", FormatSizeMB(1572864))
}
