package asset

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const testKeyId = "key1"
const testSecret = "secret1"

func verifyBearer(t *testing.T, r *http.Request, scope string) {
	authorization := r.Header.Get("Authorization")
	assert.Equal(t, strings.HasPrefix(authorization, "Bearer "), true)

	token, err := gojwt.Parse(
		strings.TrimPrefix(authorization, "Bearer "),
		func(token *gojwt.Token) (any, error) {
			return []byte(testSecret), nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	claims := token.Claims.(gojwt.MapClaims)
	assert.Equal(t, claims["iss"], testKeyId)
	assert.Equal(t, claims["scope"], scope)
}

func TestUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/upload")
		verifyBearer(t, r, "upload")

		args := &uploadArgs{}
		if err := json.NewDecoder(r.Body).Decode(args); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, args.Src, "data:image/png;base64,AAAA")
		assert.Equal(t, args.Kind, "image")

		json.NewEncoder(w).Encode(&uploadResult{
			Url:      "https://cdn/x.png",
			PublicId: "h1",
		})
	}))
	defer server.Close()

	client := NewClientWithDefaults(server.URL, testKeyId, testSecret)
	upload, err := client.Upload(context.Background(), "data:image/png;base64,AAAA", "image")
	assert.Equal(t, err, nil)
	assert.Equal(t, upload.Url, "https://cdn/x.png")
	assert.Equal(t, upload.PublicId, "h1")
}

func TestUploadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClientWithDefaults(server.URL, testKeyId, testSecret)
	_, err := client.Upload(context.Background(), "tmp", "image")
	assert.NotEqual(t, err, nil)

	uploadErr := &UploadError{}
	assert.Equal(t, errors.As(err, &uploadErr), true)
}

func TestUploadIncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&uploadResult{Url: "https://cdn/x.png"})
	}))
	defer server.Close()

	client := NewClientWithDefaults(server.URL, testKeyId, testSecret)
	_, err := client.Upload(context.Background(), "tmp", "image")
	assert.NotEqual(t, err, nil)
}

func TestDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/destroy")
		verifyBearer(t, r, "destroy")

		args := &destroyArgs{}
		if err := json.NewDecoder(r.Body).Decode(args); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, args.PublicId, "h1")
		assert.Equal(t, args.Kind, "image")

		json.NewEncoder(w).Encode(&destroyResult{})
	}))
	defer server.Close()

	client := NewClientWithDefaults(server.URL, testKeyId, testSecret)
	assert.Equal(t, client.Delete(context.Background(), "h1", "image"), nil)
}

func TestDeleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClientWithDefaults(server.URL, testKeyId, testSecret)
	err := client.Delete(context.Background(), "h1", "image")
	assert.NotEqual(t, err, nil)

	deleteErr := &DeleteError{}
	assert.Equal(t, errors.As(err, &deleteErr), true)
}
