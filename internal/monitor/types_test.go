package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProxyEndpoint(t *testing.T) {
	t.Parallel()

	p := Proxy{ID: 1, URL: "10.0.0.5:8080:alice:s3cret"}
	server, user, pass, err := p.Endpoint()
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:8080", server)
	require.Equal(t, "alice", user)
	require.Equal(t, "s3cret", pass)
}

func TestProxyEndpointMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "host:8080", "host:8080:user", "a:b:c:d:e"} {
		p := Proxy{URL: raw}
		_, _, _, err := p.Endpoint()
		require.Error(t, err, "descriptor %q", raw)
	}
}
