package htmltext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	raw := `<!doctype html><html><head><title>  Acme
	Pricing </title><style>.x{color:red}</style></head>
	<body><nav>Home</nav><h1>Plans</h1><p>Basic<br>$10</p>
	<script>var secret = 1;</script><!-- hidden --><noscript>enable js</noscript>
	<ul><li>One</li><li>Two</li></ul></body></html>`

	doc, err := Extract(raw)
	require.NoError(t, err)
	require.Equal(t, "Acme Pricing", doc.Title)
	require.Equal(t, "Home Plans Basic $10 One Two", doc.Text)
}

func TestTextEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", Text(""))
	require.Equal(t, "", Text("<html><body><script>x()</script></body></html>"))
}

func TestCollapse(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b c", Collapse("  a\n\tb   c  "))
}
