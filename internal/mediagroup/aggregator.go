// Package mediagroup collects the photos of a Telegram album, which arrive
// as separate updates, into one submission.
package mediagroup

import (
	"strconv"
	"sync"
	"time"
)

const defaultDebounce = 1200 * time.Millisecond

// Photo is one album member as it arrives.
type Photo struct {
	ChatID  int64
	AlbumID string
	Caption string
	FileID  string
}

// Album is what the bot acts on: the first file is the reference image and
// the first non-empty caption is the scene.
type Album struct {
	ChatID  int64
	AlbumID string
	Caption string
	FileIDs []string
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Album)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Album)
	pending  map[string]*pendingAlbum
	closed   bool
}

type pendingAlbum struct {
	album Album
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		pending:  make(map[string]*pendingAlbum),
	}
}

// Add buffers a photo and restarts the album's quiet timer. It reports
// whether the photo was accepted.
func (a *Aggregator) Add(p Photo) bool {
	if p.AlbumID == "" || p.FileID == "" {
		return false
	}
	key := albumKey(p.ChatID, p.AlbumID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}

	pa, ok := a.pending[key]
	if !ok {
		pa = &pendingAlbum{album: Album{ChatID: p.ChatID, AlbumID: p.AlbumID}}
		a.pending[key] = pa
	}
	pa.album.FileIDs = append(pa.album.FileIDs, p.FileID)
	if pa.album.Caption == "" {
		pa.album.Caption = p.Caption
	}

	if pa.timer != nil {
		pa.timer.Stop()
	}
	pa.timer = time.AfterFunc(a.debounce, func() { a.flush(key) })
	return true
}

// Pending reports how many albums are still waiting for their timer.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close stops accepting photos and flushes what is buffered right away.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	keys := make([]string, 0, len(a.pending))
	for k, pa := range a.pending {
		pa.timer.Stop()
		keys = append(keys, k)
	}
	a.mu.Unlock()

	for _, k := range keys {
		a.flush(k)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pa, ok := a.pending[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	album := pa.album
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(album)
	}
}

func albumKey(chatID int64, albumID string) string {
	return strconv.FormatInt(chatID, 10) + ":" + albumID
}
