package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type detectorFunc func(Response) bool

func (f detectorFunc) ShouldPromote(resp Response) bool { return f(resp) }

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckStatus(Response{StatusCode: http.StatusOK}))
	require.NoError(t, CheckStatus(Response{StatusCode: http.StatusMovedPermanently}))
	err := CheckStatus(Response{StatusCode: http.StatusServiceUnavailable})
	require.ErrorIs(t, err, ErrStatus)
	require.Contains(t, err.Error(), "503")
}

func TestTitle(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Acme Pricing", Title("<html><head><title>\n Acme   Pricing </title></head></html>"))
	require.Empty(t, Title("<p>no title</p>"))
}

func TestPromotingFetch(t *testing.T) {
	t.Parallel()

	plain := Func(func(_ context.Context, url string) (Response, error) {
		return Response{URL: url, StatusCode: 200, HTML: `<div id="root"></div>`}, nil
	})
	rendered := Func(func(_ context.Context, url string) (Response, error) {
		return Response{URL: url, StatusCode: 200, HTML: "<p>rendered</p>", Rendered: true}, nil
	})
	always := detectorFunc(func(Response) bool { return true })
	never := detectorFunc(func(Response) bool { return false })

	resp, err := NewPromoting(plain, rendered, always, nil).Fetch(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.True(t, resp.Rendered)

	resp, err = NewPromoting(plain, rendered, never, nil).Fetch(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.False(t, resp.Rendered)

	resp, err = NewPromoting(plain, nil, always, nil).Fetch(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.False(t, resp.Rendered)

	broken := Func(func(context.Context, string) (Response, error) { return Response{}, errors.New("chrome gone") })
	resp, err = NewPromoting(plain, broken, always, nil).Fetch(context.Background(), "https://a.test/")
	require.NoError(t, err)
	require.False(t, resp.Rendered)

	_, err = NewPromoting(broken, rendered, always, nil).Fetch(context.Background(), "https://a.test/")
	require.Error(t, err)
}
