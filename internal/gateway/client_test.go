package gateway

import (
	"fmt"
	"testing"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry(testLog())
	require.NotNil(t, reg)
	assert.Equal(t, 0, reg.Count())

	for i := range 3 {
		reg.Add(&Client{ConnID: fmt.Sprintf("conn-%d", i), Info: ClientInfo{ID: fmt.Sprintf("widget-%d", i)}})
	}
	assert.Equal(t, 3, reg.Count())

	got, ok := reg.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "widget-1", got.Info.ID)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	reg.Remove("conn-1")
	reg.Remove("missing")
	assert.Equal(t, 2, reg.Count())
	_, ok = reg.Get("conn-1")
	assert.False(t, ok)
}

func TestClientRegistryCloseAll(t *testing.T) {
	reg := NewClientRegistry(testLog())

	// Already-closed clients never touch their nil sockets.
	reg.Add(&Client{ConnID: "conn-1", closed: true})
	reg.Add(&Client{ConnID: "conn-2", closed: true})

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
}

func TestClientRegistryBroadcastDropsDeadClients(t *testing.T) {
	reg := NewClientRegistry(testLog())
	reg.Add(&Client{ConnID: "conn-1", closed: true})
	reg.Add(&Client{ConnID: "conn-2", closed: true})

	assert.Equal(t, 0, reg.Broadcast(EventContextRefreshed, map[string]int{"tours": 1}, 1))
	assert.Equal(t, 0, reg.Count())
}

func TestClientSendAfterClose(t *testing.T) {
	c := &Client{ConnID: "conn-1", closed: true}
	assert.ErrorIs(t, c.Send(Frame{Type: FrameTypeEvent}), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		bind string
		port int
		host string
		want string
	}{
		{"loopback", "loopback", 18790, "", "127.0.0.1:18790"},
		{"lan", "lan", 9999, "", "0.0.0.0:9999"},
		{"auto", "auto", 8080, "", "0.0.0.0:8080"},
		{"custom_default", "custom", 3000, "", "0.0.0.0:3000"},
		{"custom_host", "custom", 3000, "10.0.0.1", "10.0.0.1:3000"},
		{"unknown_fallback", "whatever", 5000, "", "127.0.0.1:5000"},
		{"empty_fallback", "", 5000, "", "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GatewayConfig{Bind: tt.bind, Port: tt.port, CustomBindHost: tt.host}
			assert.Equal(t, tt.want, resolveBindAddr(cfg))
		})
	}
}

func TestProtocolSupported(t *testing.T) {
	tests := []struct {
		min, max int
		want     bool
	}{
		{0, 0, true},
		{1, 1, true},
		{1, 3, true},
		{0, 1, true},
		{2, 0, false},
		{2, 3, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.min, tt.max), func(t *testing.T) {
			assert.Equal(t, tt.want, protocolSupported(ConnectParams{MinProtocol: tt.min, MaxProtocol: tt.max}))
		})
	}
}
