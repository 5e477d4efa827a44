package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const calendarHTML = `<html><body>
<div class="week">
  <h3><p class="cn">星期一</p><p class="en">Mon</p></h3>
  <ul class="coverList clearit">
    <li style="background:url('//lain.bgm.tv/pic/cover/c/aa.jpg')">
      <a href="/subject/100" class="nav"><em>葬送的芙莉莲</em></a>
    </li>
    <li style="background:url(https://lain.bgm.tv/pic/cover/c/bb.jpg)">
      <a href="/person/1">staff</a>
      <a href="https://bangumi.tv/subject/200/ep" class="nav">药屋少女的呢喃</a>
    </li>
    <li><a href="/subject/abc">broken</a></li>
    <li><a href="/group/5">not a subject</a></li>
  </ul>
</div>
<div class="week">
  <h3>周三</h3>
  <ul class="coverList">
    <li><a href="/subject/300">Link Title</a></li>
    <li><a href="/subject/100"><em>葬送的芙莉莲</em></a></li>
  </ul>
</div>
</body></html>`

func TestParseCalendar(t *testing.T) {
	t.Parallel()

	page, err := ParseCalendar(calendarHTML)
	require.NoError(t, err)
	require.Equal(t, 2, page.Blocks)
	require.Len(t, page.Items, 4)

	first := page.Items[0]
	require.Equal(t, int64(100), first.SubjectID)
	require.Equal(t, "https://bangumi.tv/subject/100", first.URL)
	require.Equal(t, "葬送的芙莉莲", first.Title)
	require.Equal(t, "https://lain.bgm.tv/pic/cover/c/aa.jpg", first.CoverImageURL)
	require.Equal(t, 1, first.Weekday)

	second := page.Items[1]
	require.Equal(t, int64(200), second.SubjectID)
	require.Equal(t, "https://bangumi.tv/subject/200/ep", second.URL)
	require.Equal(t, "药屋少女的呢喃", second.Title)
	require.Equal(t, "https://lain.bgm.tv/pic/cover/c/bb.jpg", second.CoverImageURL)

	third := page.Items[2]
	require.Equal(t, int64(300), third.SubjectID)
	require.Equal(t, "Link Title", third.Title)
	require.Equal(t, 3, third.Weekday)
	require.Empty(t, third.CoverImageURL)

	require.Equal(t, int64(100), page.Items[3].SubjectID)
}

func TestParseCalendarFallsBackToOtherHeadings(t *testing.T) {
	t.Parallel()

	html := `<h2>Friday</h2><ul class="coverList"><li><a href="/subject/9">x</a></li></ul>`
	page, err := ParseCalendar(html)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 5, page.Items[0].Weekday)
}

func TestParseCalendarSkipsUnresolvableBlocks(t *testing.T) {
	t.Parallel()

	html := `<ul class="coverList"><li><a href="/subject/1">x</a></li></ul>
<h3>Today</h3><ul class="coverList"><li><a href="/subject/2">y</a></li></ul>`
	page, err := ParseCalendar(html)
	require.NoError(t, err)
	require.Equal(t, 2, page.Blocks)
	require.Empty(t, page.Items)
}

func TestParseCalendarEmptyNavUsesLinkText(t *testing.T) {
	t.Parallel()

	page, err := ParseCalendar(`<h3>星期五</h3><ul class="coverList"><li>
	  <a href="/subject/500" class="thumb">Thumb Title</a>
	  <a href="/subject/500" class="nav"> </a>
	</li></ul>`)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "Thumb Title", page.Items[0].Title)
	require.Equal(t, 5, page.Items[0].Weekday)
}

func TestParseCalendarNoBlocks(t *testing.T) {
	t.Parallel()

	page, err := ParseCalendar(`<html><body><p>Access denied</p></body></html>`)
	require.NoError(t, err)
	require.Zero(t, page.Blocks)
	require.Empty(t, page.Items)
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"星期日": 0, "星期天": 0, "周日": 0,
		"星期一": 1, "周二": 2, "星期三": 3, "周四": 4, "星期五": 5, "周六": 6,
		"Sunday": 0, "Tue": 2, "SATURDAY": 6,
	}
	for in, want := range tests {
		got, ok := ParseWeekday(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	_, ok := ParseWeekday("今日")
	require.False(t, ok)
}

func TestSubjectIDFromURL(t *testing.T) {
	t.Parallel()

	id, ok := SubjectIDFromURL("https://bgm.tv/subject/4242?from=cal")
	require.True(t, ok)
	require.Equal(t, int64(4242), id)

	_, ok = SubjectIDFromURL("/subject/")
	require.False(t, ok)
	_, ok = SubjectIDFromURL("/person/3")
	require.False(t, ok)
}
