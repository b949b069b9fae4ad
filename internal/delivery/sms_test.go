package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSSenderSubmitsForm(t *testing.T) {
	var gotRecipient, gotAPIKey, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotRecipient = r.FormValue("recipient")
		gotAPIKey = r.FormValue("apiKey")
		gotText = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"messageId":"m-1"}}`))
	}))
	defer server.Close()

	sender := NewSMSSender("secret-key", "", server.URL)
	err := sender.SendCode(context.Background(), "+491234567890", "ABC234")
	require.NoError(t, err)

	assert.Equal(t, "+491234567890", gotRecipient)
	assert.Equal(t, "secret-key", gotAPIKey)
	assert.Contains(t, gotText, "ABC234")
}

func TestSMSSenderGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":7}`))
	}))
	defer server.Close()

	sender := NewSMSSender("secret-key", "", server.URL)
	err := sender.SendCode(context.Background(), "+491234567890", "ABC234")
	assert.Error(t, err)
}

func TestSMSSenderDryRunWithoutCredentials(t *testing.T) {
	sender := NewSMSSender("", "", "https://unreachable.invalid")
	err := sender.SendCode(context.Background(), "+491234567890", "ABC234")
	assert.NoError(t, err, "dry-run must not hit the network")
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+4*********90", maskPhone("+491234567890"))
	assert.Equal(t, "****", maskPhone("+49"))
}
