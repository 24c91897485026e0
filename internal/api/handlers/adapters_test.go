package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsweep/internal/discovery"
)

func TestListAdapters(t *testing.T) {
	up := lanAdapter()
	up.Name = "wlan0"
	up.Flags = net.FlagUp | net.FlagBroadcast
	up.Prefixes = []netip.Prefix{netip.MustParsePrefix("10.1.0.0/16"), netip.MustParsePrefix("10.2.0.0/24")}

	targets := &fakeTargets{adapters: []discovery.Adapter{lanAdapter(), up}}
	h := NewAdapterHandler(targets, testLogger())

	rec := httptest.NewRecorder()
	h.ListAdapters(rec, httptest.NewRequest(http.MethodGet, "/api/v1/adapters", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AdapterListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Adapters, 2)

	assert.Equal(t, AdapterResponse{
		Name:         "eth0",
		Index:        2,
		HardwareAddr: "b8:27:eb:01:02:03",
		Subnets:      []string{"192.168.1.0/24"},
		Eligible:     false,
	}, resp.Adapters[0])
	assert.Equal(t, "wlan0", resp.Adapters[1].Name)
	assert.Equal(t, []string{"10.1.0.0/16", "10.2.0.0/24"}, resp.Adapters[1].Subnets)
	assert.True(t, resp.Adapters[1].Eligible)
}

func TestListAdaptersEmpty(t *testing.T) {
	h := NewAdapterHandler(&fakeTargets{}, testLogger())
	rec := httptest.NewRecorder()
	h.ListAdapters(rec, httptest.NewRequest(http.MethodGet, "/api/v1/adapters", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"adapters":[]`)
}

func TestListAdaptersFailure(t *testing.T) {
	h := NewAdapterHandler(&fakeTargets{err: errBoom}, testLogger())
	rec := httptest.NewRecorder()
	h.ListAdapters(rec, httptest.NewRequest(http.MethodGet, "/api/v1/adapters", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Internal Server Error", resp.Error)
	assert.Equal(t, "boom", resp.Message)
	assert.Equal(t, "unknown", resp.RequestID)
}
