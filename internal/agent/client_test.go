package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestAnalyzeSymptoms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/symptoms/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req symptomsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Asha", req.UserName)
		assert.Equal(t, "fever", req.Text)

		json.NewEncoder(w).Encode(symptomsResponse{Diagnosis: "Take paracetamol"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	got, err := c.AnalyzeSymptoms(context.Background(), "Asha", "fever")

	require.NoError(t, err)
	assert.Equal(t, "Take paracetamol", got)
}

func TestAnalyzeImageSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vision/analyze", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Asha", r.FormValue("user_name"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "chest.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

		json.NewEncoder(w).Encode(visionResponse{Analysis: "No fracture"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	got, err := c.AnalyzeImage(context.Background(), "Asha", Image{
		Name:        "chest.png",
		ContentType: "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
	})

	require.NoError(t, err)
	assert.Equal(t, "No fracture", got)
}

func TestNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).AnalyzeSymptoms(context.Background(), "Asha", "fever")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "upstream down", se.Body)
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).AnalyzeSymptoms(context.Background(), "Asha", "fever")
	assert.Error(t, err)
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, time.Second).AnalyzeImage(context.Background(), "Asha", Image{Data: []byte("x")})
	assert.Error(t, err)
}

func TestSymptomPrompt(t *testing.T) {
	p := symptomPrompt("", "fever")
	assert.Contains(t, p, "No previous records available.")
	assert.Contains(t, p, "CURRENT USER QUESTION:\nfever")

	p = symptomPrompt("\n[IMAGE ANALYSIS - chest.png]: clear\n", "cough")
	assert.Contains(t, p, "chest.png")
	assert.NotContains(t, p, "No previous records")
}

func TestResponseText(t *testing.T) {
	_, err := responseText(nil)
	assert.Error(t, err)

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "Take "}, {Text: "rest"}}},
	}}}
	got, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Take rest", got)
}
