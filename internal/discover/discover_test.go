package discover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const detailPage = `<html><body>
<nav><a href="/files/nav.pdf">nav link outside content</a></nav>
<div class="col-sm-9">
  <a href="https://www.workplacerelations.ie/en/cases/2025/adj-1.html">self</a>
  <a href="#">top</a>
  <a href="#section-2">section</a>
  <a href="/en/search/?q=x">back to results</a>
  <a href="/EN/Search/">back again</a>
  <a href="/files/a.pdf">decision</a>
  <a href="/files/a.pdf">decision (again)</a>
  <a href="appendix.docx">appendix</a>
  <a href="">empty</a>
  <a>no href</a>
  <a href="/files/b.pdf#">trailing fragment</a>
</div>
</body></html>`

func TestDiscoverFiltersNavigationAndSelfLinks(t *testing.T) {
	t.Parallel()

	d := New("", "")
	got, err := d.Discover([]byte(detailPage), "https://www.workplacerelations.ie/en/cases/2025/adj-1.html")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.workplacerelations.ie/en/cases/2025/appendix.docx",
		"https://www.workplacerelations.ie/files/a.pdf",
	}, got.Sorted())
}

func TestDiscoverMinimalPage(t *testing.T) {
	t.Parallel()

	page := `<div class="col-sm-9"><a href="https://x.example/case">self</a><a href="#">#</a>` +
		`<a href="/search/x">s</a><a href="/files/a.pdf">a</a><a href="/files/a.pdf">a</a></div>`
	got, err := New("", "").Discover([]byte(page), "https://x.example/case")
	require.NoError(t, err)
	require.Equal(t, []string{"https://x.example/files/a.pdf"}, got.Sorted())
}

func TestDiscoverCustomSelector(t *testing.T) {
	t.Parallel()

	page := `<main><a href="/doc.pdf">doc</a></main><div class="col-sm-9"><a href="/other.pdf">o</a></div>`
	got, err := New("main", "/lookup").Discover([]byte(page), "https://x.example/case")
	require.NoError(t, err)
	require.Equal(t, []string{"https://x.example/doc.pdf"}, got.Sorted())
}

func TestDiscoverNoContentRegion(t *testing.T) {
	t.Parallel()

	got, err := New("", "").Discover([]byte(`<html><body><a href="/x.pdf">x</a></body></html>`), "https://x.example/")
	require.NoError(t, err)
	require.Zero(t, got.Len())
}

func TestDiscoverBadCanonicalURL(t *testing.T) {
	t.Parallel()

	_, err := New("", "").Discover([]byte(`<a href="/x">x</a>`), "http://%zz")
	require.Error(t, err)
}
