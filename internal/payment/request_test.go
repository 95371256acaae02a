package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallbackRequest_Form(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/cb?reference=Q1", strings.NewReader("refno=TP1&status=1&order_id=R1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	req, err := ParseCallbackRequest(r)
	require.NoError(t, err)

	assert.Equal(t, "R1", req.Input("order_id"))
	assert.Equal(t, "Q1", req.Input("reference"))
	assert.Equal(t, "refno=TP1&status=1&order_id=R1", string(req.RawBody))
	assert.False(t, req.IsReturn())

	payload := req.Payload()
	assert.Equal(t, "1", payload["status"])
	assert.Equal(t, "Q1", payload["reference"])
}

func TestParseCallbackRequest_JSONKeepsNumbers(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(`{"data":{"id":123456789012},"items":[{"ref":"A"}]}`))
	r.Header.Set("Content-Type", "application/json")

	req, err := ParseCallbackRequest(r)
	require.NoError(t, err)

	assert.Equal(t, "123456789012", req.Input("data.id"))
	assert.Equal(t, "A", req.Input("items.0.ref"))
	assert.Equal(t, "", req.Input("items.3.ref"))
	assert.True(t, req.Has("data"))
	assert.False(t, req.Has("type"))
}

func TestParseCallbackRequest_BodyWinsOverQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/cb?status=pending", strings.NewReader(`{"status":"paid"}`))

	req, err := ParseCallbackRequest(r)
	require.NoError(t, err)

	assert.Equal(t, "paid", req.Payload()["status"])
	assert.Equal(t, "pending", req.QueryValue("status"))
}

func TestParseCallbackRequest_MalformedJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(`{"status":`))
	r.Header.Set("Content-Type", "application/json")

	_, err := ParseCallbackRequest(r)
	assert.Error(t, err)
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{true, "1", "true", "YES", 1} {
		assert.True(t, truthy(v), "%v", v)
	}
	for _, v := range []any{false, "0", "", nil, "no"} {
		assert.False(t, truthy(v), "%v", v)
	}
}
