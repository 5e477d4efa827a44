package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/anime-guide-crawler/internal/fetch"
	iduuid "github.com/JakeFAU/anime-guide-crawler/internal/id/uuid"
	"github.com/JakeFAU/anime-guide-crawler/internal/storage/memory"
)

const calendarHTML = `<html><body>
<h3>星期三</h3>
<ul class="coverList">
  <li style="background:url('//lain.bgm.tv/pic/cover/c/100.jpg')"><a href="/subject/100" class="nav"><em>Alpha</em></a></li>
  <li><a href="/subject/200"><em>Beta</em></a></li>
  <li><a href="/subject/100"><em>Alpha</em></a></li>
</ul>
<h3>星期四</h3>
<ul class="coverList">
  <li><a href="/subject/300"><em>Gamma</em></a></li>
  <li><a href="/subject/200"><em>Beta</em></a></li>
</ul>
</body></html>`

const subjectHTML = `<html><body>
<ul id="infobox">
  <li><span class="tip">中文名: </span>阿尔法</li>
  <li><span class="tip">话数: </span>12</li>
  <li><span class="tip">放送开始: </span>2024年1月10日</li>
</ul>
<div class="global_score"><span class="number">8.6</span><span property="v:votes">1234</span></div>
<div id="subject_summary">First line</div>
</body></html>`

const episodesHTML = `<html><body>
<ul class="line_list">
  <li class="cat">本篇</li>
  <li><h6><a href="/ep/1">1.Arrival</a></h6><small>首播:2024-03-06</small></li>
  <li><h6><a href="/ep/2">2.Departure</a></h6></li>
</ul>
</body></html>`

const emptyHTML = `<html><head><title>Just a moment</title></head><body></body></html>`

// wednesday is 2024-03-06, inside the week starting Sunday 2024-03-03.
var wednesday = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type response struct {
	body string
	err  error
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]response
	calls  []string
	before func(url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]response)}
}

func (f *fakeFetcher) Page(url, body string) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = response{body: body}
	return f
}

func (f *fakeFetcher) Fail(url string, err error) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = response{err: err}
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	resp, ok := f.pages[url]
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before(url)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok {
		return "", &fetch.Error{URL: url, StatusCode: 404, Attempts: 1, Err: errors.New("not found")}
	}
	return resp.body, resp.err
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) Count(url string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == url {
			n++
		}
	}
	return n
}

type fakeRenderer struct {
	body  string
	err   error
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _ string) (string, error) {
	r.calls++
	return r.body, r.err
}

type harness struct {
	store   *memory.AnimeStore
	fetcher *fakeFetcher
	clock   *fixedClock
	crawler *Crawler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewAnimeStore(),
		fetcher: newFakeFetcher(),
		clock:   &fixedClock{now: wednesday},
	}
	c, err := New(h.store, h.fetcher, h.clock, Config{}, opts...)
	require.NoError(t, err)
	h.crawler = c
	return h
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(h.crawler, iduuid.NewUUIDGenerator())
	require.NoError(t, err)
	return r
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
