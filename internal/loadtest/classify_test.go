package loadtest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
	"github.com/wesleyorama2/merchload/internal/merchtest"
)

func TestClassify(t *testing.T) {
	poor := &Response{StatusCode: 400, Body: []byte(`{"errors":"not enough coin"}`)}
	poorPlural := &Response{StatusCode: 400, Body: []byte(`{"errors":"not enough coins"}`)}
	badItem := &Response{StatusCode: 400, Body: []byte(`{"errors":"item does not exist"}`)}
	ok := &Response{StatusCode: 200}
	serverErr := &Response{StatusCode: 500, Body: []byte(`{"errors":"internal server error"}`)}
	unauthorized := &Response{StatusCode: 401}

	tests := []struct {
		name string
		kind ActionKind
		resp *Response
		err  error
		want metrics.Outcome
	}{
		{"info ok", FetchInfo, ok, nil, metrics.OutcomePass},
		{"info 400 not enough coin", FetchInfo, poor, nil, metrics.OutcomeCheckFailed},
		{"info 500", FetchInfo, serverErr, nil, metrics.OutcomeCheckFailed},
		{"buy ok", BuyItem, ok, nil, metrics.OutcomePass},
		{"buy not enough coin", BuyItem, poor, nil, metrics.OutcomePass},
		{"buy unknown item", BuyItem, badItem, nil, metrics.OutcomeCheckFailed},
		{"buy unauthorized", BuyItem, unauthorized, nil, metrics.OutcomeCheckFailed},
		{"send ok", SendCoin, ok, nil, metrics.OutcomePass},
		{"send not enough coins", SendCoin, poorPlural, nil, metrics.OutcomePass},
		{"send 500", SendCoin, serverErr, nil, metrics.OutcomeCheckFailed},
		{"transport error", SendCoin, nil, errors.New("connection refused"), metrics.OutcomeTransportError},
		{"nil response", FetchInfo, nil, nil, metrics.OutcomeTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Classify(tt.kind, tt.resp, tt.err)
			assert.Equal(t, tt.want, got)
			if got == metrics.OutcomePass {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestClassify_ServiceRejections(t *testing.T) {
	users, tokens := merchtest.Users(2)
	srv := merchtest.NewServer(users, tokens, merchtest.Options{Balance: 5})
	defer srv.Close()

	transport := NewHTTPTransport(DefaultHTTPClientConfig())
	auth := map[string]string{"Authorization": "Bearer " + tokens[0]}

	resp, err := transport.Get(context.Background(), srv.URL+"/api/buy/cup", auth)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	outcome, _ := Classify(BuyItem, resp, nil)
	assert.Equal(t, metrics.OutcomePass, outcome)

	resp, err = transport.Post(context.Background(), srv.URL+"/api/sendCoin", []byte(`{"toUser":"user1","amount":50}`), auth)
	require.NoError(t, err)
	outcome, _ = Classify(SendCoin, resp, nil)
	assert.Equal(t, metrics.OutcomePass, outcome)

	resp, err = transport.Get(context.Background(), srv.URL+"/api/buy/hoody", auth)
	require.NoError(t, err)
	outcome, reason := Classify(BuyItem, resp, nil)
	assert.Equal(t, metrics.OutcomeCheckFailed, outcome)
	assert.Equal(t, "unexpected status 400", reason)
}
