package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const episodeHTML = `<html><head><title>葬送的芙莉莲 章节</title></head><body>
<ul class="line_list">
  <li class="cat">本篇</li>
  <li><h6><a href="/ep/1">1.冒险的结束</a></h6><small class="grey">首播:2023-9-29</small></li>
  <li><h6><a href="/ep/2">2.不是魔法也没关系</a></h6><small>首播:2023年10月6日</small></li>
  <li><h6><a href="/ep/x">SP 特别篇</a></h6></li>
  <li><span class="sort">Ep.03</span><a class="l" href="/ep/3">杀人魔法</a></li>
</ul>
</body></html>`

func TestParseEpisodesLineList(t *testing.T) {
	t.Parallel()

	page, err := ParseEpisodes(episodeHTML)
	require.NoError(t, err)
	require.Equal(t, ".line_list li", page.Container)
	require.Equal(t, 5, page.Candidates)
	require.Len(t, page.Items, 3)

	require.Equal(t, 1, page.Items[0].Number)
	require.Equal(t, "1.冒险的结束", page.Items[0].Title)
	require.NotNil(t, page.Items[0].AirDate)
	require.Equal(t, "2023-09-29", FormatISO(*page.Items[0].AirDate))

	require.Equal(t, 2, page.Items[1].Number)
	require.Equal(t, "2023-10-06", FormatISO(*page.Items[1].AirDate))

	require.Equal(t, 3, page.Items[2].Number)
	require.Equal(t, "杀人魔法", page.Items[2].Title)
	require.Nil(t, page.Items[2].AirDate)
}

func TestParseEpisodesContainerPrecedence(t *testing.T) {
	t.Parallel()

	html := `<ul id="eplist"><li data-ep="4"><a href="/ep/4">four</a></li></ul>
<ul class="line_list"><li><h6><a href="/ep/9">9.nine</a></h6></li></ul>`
	page, err := ParseEpisodes(html)
	require.NoError(t, err)
	require.Equal(t, "#eplist li", page.Container)
	require.Len(t, page.Items, 1)
	require.Equal(t, 4, page.Items[0].Number)
	require.Equal(t, "four", page.Items[0].Title)
}

func TestParseEpisodesDataAttributes(t *testing.T) {
	t.Parallel()

	html := `<div><a data-episode-no="12" href="/ep/12">final 2024-03-24</a><span data-ep="x1">bad</span></div>`
	page, err := ParseEpisodes(html)
	require.NoError(t, err)
	require.Equal(t, "[data-ep], [data-episode-no]", page.Container)
	require.Len(t, page.Items, 1)
	require.Equal(t, 12, page.Items[0].Number)
	require.Equal(t, "2024-03-24", FormatISO(*page.Items[0].AirDate))
}

func TestParseEpisodesDiagnostics(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("字", 400)
	html := `<html><head><title> Blocked </title></head><body>
<div id="sectionEp"><p>` + long + `</p></div><div class="line_list"><p>empty</p></div></body></html>`
	page, err := ParseEpisodes(html)
	require.NoError(t, err)
	require.Empty(t, page.Container)
	require.Empty(t, page.Items)
	require.Equal(t, "Blocked", page.PageTitle)
	require.Len(t, page.Snippets, 2)
	require.Equal(t, 300, len([]rune(page.Snippets[0])))
	require.Equal(t, "empty", page.Snippets[1])
}
