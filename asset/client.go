package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/dabiiplay/pagina.mods-Backend/hub"
)

// UploadError is a failed asset upload. The owning elementAdd is
// aborted entirely.
type UploadError struct {
	Cause error
}

func (self *UploadError) Error() string {
	return fmt.Sprintf("asset upload: %s", self.Cause)
}

func (self *UploadError) Unwrap() error {
	return self.Cause
}

// DeleteError is a failed asset delete. The owning elementDelete
// continues past it.
type DeleteError struct {
	Cause error
}

func (self *DeleteError) Error() string {
	return fmt.Sprintf("asset delete: %s", self.Cause)
}

func (self *DeleteError) Unwrap() error {
	return self.Cause
}

type ClientSettings struct {
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	TlsTimeout     time.Duration
	TokenTtl       time.Duration
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		RequestTimeout: 60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		TlsTimeout:     5 * time.Second,
		TokenTtl:       2 * time.Minute,
	}
}

// Client talks to the binary asset service. An upload turns a
// transient src into a durable url plus an opaque handle used for
// later deletion.
type Client struct {
	baseUrl string
	keyId   string
	secret  []byte

	httpClient *http.Client
	settings   *ClientSettings
}

func NewClientWithDefaults(baseUrl string, keyId string, secret string) *Client {
	return NewClient(baseUrl, keyId, secret, DefaultClientSettings())
}

func NewClient(baseUrl string, keyId string, secret string, settings *ClientSettings) *Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: settings.ConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: settings.TlsTimeout,
	}
	return &Client{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		keyId:   keyId,
		secret:  []byte(secret),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   settings.RequestTimeout,
		},
		settings: settings,
	}
}

type uploadArgs struct {
	Src  string `json:"src"`
	Kind string `json:"kind"`
}

type uploadResult struct {
	Url      string `json:"url"`
	PublicId string `json:"publicId"`
}

type destroyArgs struct {
	PublicId string `json:"publicId"`
	Kind     string `json:"kind"`
}

type destroyResult struct {
}

func (self *Client) Upload(ctx context.Context, src string, kind string) (*hub.AssetUpload, error) {
	result := &uploadResult{}
	if err := self.post(ctx, "/upload", "upload", &uploadArgs{Src: src, Kind: kind}, result); err != nil {
		return nil, &UploadError{Cause: err}
	}
	if result.Url == "" || result.PublicId == "" {
		return nil, &UploadError{Cause: fmt.Errorf("response missing url or publicId")}
	}
	return &hub.AssetUpload{
		Url:      result.Url,
		PublicId: result.PublicId,
	}, nil
}

func (self *Client) Delete(ctx context.Context, publicId string, kind string) error {
	if err := self.post(ctx, "/destroy", "destroy", &destroyArgs{PublicId: publicId, Kind: kind}, &destroyResult{}); err != nil {
		return &DeleteError{Cause: err}
	}
	return nil
}

// mintToken signs a short lived bearer for one request.
func (self *Client) mintToken(scope string) (string, error) {
	now := time.Now()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"iss":   self.keyId,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(self.settings.TokenTtl).Unix(),
	})
	return token.SignedString(self.secret)
}

func (self *Client) post(ctx context.Context, path string, scope string, args any, result any) error {
	requestBody, err := json.Marshal(args)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, self.baseUrl+path, bytes.NewReader(requestBody))
	if err != nil {
		return err
	}
	token, err := self.mintToken(scope)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	response, err := self.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if http.StatusOK != response.StatusCode {
		return fmt.Errorf("asset service status %d", response.StatusCode)
	}
	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(responseBody, result)
}
