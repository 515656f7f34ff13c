package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanerKeepsMainContent(t *testing.T) {
	t.Parallel()

	page := `<html><head><style>p{}</style></head><body>
<header>Site header</header><nav>menu</nav>
<div class="col-sm-9"><h1>Decision</h1><script>track()</script><p>Award of €500.</p></div>
<footer>footer</footer></body></html>`

	got, err := NewCleaner("").Clean([]byte(page))
	require.NoError(t, err)
	require.Equal(t, `<div class="col-sm-9"><h1>Decision</h1><p>Award of €500.</p></div>`, string(got))
}

func TestCleanerFallsBackToBody(t *testing.T) {
	t.Parallel()

	got, err := NewCleaner("div.col-sm-9").Clean([]byte(`<html><body><nav>x</nav><p>only body</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, `<body><p>only body</p></body>`, string(got))
}

func TestCleanerFallsBackToDocument(t *testing.T) {
	t.Parallel()

	got, err := NewCleaner("").Clean([]byte(`<title>t</title><script>x()</script>`))
	require.NoError(t, err)
	require.Equal(t, `<html><head><title>t</title></head><body></body></html>`, string(got))
}

func TestCleanerIsDeterministic(t *testing.T) {
	t.Parallel()

	page := []byte(`<div class="col-sm-9"><a href="/files/a.pdf">a</a></div>`)
	cleaner := NewCleaner("")
	first, err := cleaner.Clean(page)
	require.NoError(t, err)
	second, err := cleaner.Clean(page)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
