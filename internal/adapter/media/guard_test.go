package media

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrivateIP(t *testing.T) {
	for _, s := range []string{"10.0.0.1", "172.31.255.255", "192.168.1.1", "127.0.0.1", "169.254.1.1", "100.64.0.1", "0.0.0.0", "::1", "fd00::1", "fe80::1", "::ffff:127.0.0.1"} {
		assert.True(t, IsPrivateIP(net.ParseIP(s)), s)
	}
	for _, s := range []string{"8.8.8.8", "87.240.129.133", "2a00:bdc0::1"} {
		assert.False(t, IsPrivateIP(net.ParseIP(s)), s)
	}
}

func TestGuardedDialBlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{DialContext: GuardedDial(nil, nil)}}
	_, _, err := NewHTTPFetcher(client, 0).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
}

func TestGuardedDialRejectsBadAddress(t *testing.T) {
	_, err := GuardedDial(nil, nil)(context.Background(), "tcp", "no-port")
	assert.Error(t, err)
}

func TestGuardDisablesProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer srv.Close()

	proxyURL, err := url.Parse("http://93.184.216.34:3128")
	require.NoError(t, err)
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL)}

	Guard(tr, &net.Dialer{})
	assert.Nil(t, tr.Proxy)

	_, _, err = NewHTTPFetcher(&http.Client{Transport: tr}, 0).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
}
