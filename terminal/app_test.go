package terminal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppWithSimulatedHost(t *testing.T) {
	config := testConfig(t.TempDir(), "127.0.0.1:0")
	config.HTTPAddr = "127.0.0.1:0"
	config.Simulate = true

	app := NewApp(testLogger(), config)
	require.NoError(t, app.Start())
	t.Cleanup(app.Shutdown)
	require.NotEqual(t, "127.0.0.1:0", app.HostAddr)

	client := &http.Client{Timeout: 10 * time.Second}
	base := "http://" + app.Addr

	resp, err := client.Get(base + "/-/live")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/-/ready")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := json.Marshal(cardRequest{Swipe: visaSwipe, Amount: 2500, Tip: 300})
	resp, err = client.Post(base+"/sales", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view RecordView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.Equal(t, int64(2800), view.Total)
	require.Equal(t, 1, app.Service.Stores().Exceptions.Len())
}
