package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

func TestSubmit_Authenticated(t *testing.T) {
	var gotAuth string
	var gotBody struct {
		Sample struct {
			Sender string `json:"sender"`
			Text   string `json:"text"`
		} `json:"sample"`
		Source string `json:"source"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer srv.Close()

	c := NewClient()
	err := c.Submit(context.Background(), srv.URL, driven.AnalysisSubmission{
		Sender: "kid@example.com",
		Text:   "hello there",
		Source: "https://chat.example.com/",
		Bearer: "tok-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "kid@example.com", gotBody.Sample.Sender)
	assert.Equal(t, "hello there", gotBody.Sample.Text)
	assert.Equal(t, "https://chat.example.com/", gotBody.Source)
}

func TestSubmit_AnonymousOmitsAuthorization(t *testing.T) {
	var sawAuthHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, sawAuthHeader = r.Header["Authorization"]
	}))
	defer srv.Close()

	c := NewClient()
	err := c.Submit(context.Background(), srv.URL, driven.AnalysisSubmission{
		Sender: "user",
		Text:   "anonymous text",
		Source: "https://chat.example.com/",
	})
	require.NoError(t, err)
	assert.False(t, sawAuthHeader)
}

func TestSubmit_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "analysis backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.Submit(context.Background(), srv.URL, driven.AnalysisSubmission{Sender: "user", Text: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSubmit_EndpointUnreachable(t *testing.T) {
	c := NewClient()
	err := c.Submit(context.Background(), "http://127.0.0.1:1/analyze", driven.AnalysisSubmission{Sender: "user", Text: "t"})
	assert.Error(t, err)
}
