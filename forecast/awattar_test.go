package forecast

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAwattarClient(t *testing.T) {
	client, err := NewAwattarClient("")
	require.NoError(t, err)
	assert.Equal(t, awattarEndpointAT, client.endpoint)

	client, err = NewAwattarClient("DE")
	require.NoError(t, err)
	assert.Equal(t, awattarEndpointDE, client.endpoint)

	_, err = NewAwattarClient("FR")
	assert.Error(t, err)
}

func TestAwattarPrices(t *testing.T) {
	now := time.Date(2025, 6, 16, 10, 20, 0, 0, time.UTC)
	firstHour := time.Date(2025, 6, 16, 11, 0, 0, 0, time.UTC)

	var requestedURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedURL = r.URL.String()
		fmt.Fprintf(w, `{"data":[
			{"start_timestamp":%d,"marketprice":82.5},
			{"start_timestamp":%d,"marketprice":-4.1}
		]}`, firstHour.UnixMilli(), firstHour.Add(time.Hour).UnixMilli())
	}))
	defer server.Close()

	client := &AwattarClient{
		endpoint: server.URL,
		client:   server.Client(),
		now:      func() time.Time { return now },
	}

	prices, err := client.Prices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, firstHour, prices[0].Time)
	assert.Equal(t, 82.5, prices[0].Value)
	assert.Equal(t, -4.1, prices[1].Value)

	// the request window starts at the next whole hour
	expectedStart := fmt.Sprintf("start=%d", firstHour.UnixMilli())
	assert.Contains(t, requestedURL, expectedStart)
}

func TestAwattarPricesErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "empty data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[]}`)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `not json`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := &AwattarClient{
				endpoint: server.URL,
				client:   server.Client(),
				now:      time.Now,
			}

			_, err := client.Prices(context.Background())
			assert.Error(t, err)
		})
	}
}
