package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the object storage used by the upload handler and the extraction routine.
type BlobStore interface {
	// Upload writes data to container/path, replacing any existing object.
	Upload(ctx context.Context, container, path string, data []byte) error

	// Download returns the full content of container/path.
	Download(ctx context.Context, container, path string) ([]byte, error)

	// SignedURL returns a read-only URL for container/path that expires after ttl.
	// It is computed locally and makes no network call.
	SignedURL(container, path string, ttl time.Duration) (string, error)
}

// AzureStore implements BlobStore on Azure Blob Storage.
type AzureStore struct {
	client *azblob.Client
	cred   *azblob.SharedKeyCredential
	now    func() time.Time
}

// NewAzureStore builds a store from a storage connection string. accountKey signs
// access grants; when empty the AccountKey from the connection string is used.
func NewAzureStore(connectionString, accountKey string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	settings := parseConnectionString(connectionString)
	accountName := settings["accountname"]
	if accountName == "" {
		return nil, errors.New("connection string has no AccountName")
	}
	if accountKey == "" {
		accountKey = settings["accountkey"]
	}
	if accountKey == "" {
		return nil, errors.New("no storage account key for signing")
	}

	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}

	return &AzureStore{client: client, cred: cred, now: time.Now}, nil
}

func (s *AzureStore) Upload(ctx context.Context, container, path string, data []byte) error {
	if _, err := s.client.UploadBuffer(ctx, container, path, data, nil); err != nil {
		return fmt.Errorf("upload %s/%s: %w", container, path, err)
	}
	return nil
}

func (s *AzureStore) Download(ctx context.Context, container, path string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, container, path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("download %s/%s: %w", container, path, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("download %s/%s: %w", container, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", container, path, err)
	}
	return data, nil
}

func (s *AzureStore) SignedURL(container, path string, ttl time.Duration) (string, error) {
	blobURL, err := s.objectURL(container, path)
	if err != nil {
		return "", err
	}

	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    s.now().UTC().Add(ttl),
		Permissions:   (&sas.BlobPermissions{Read: true}).String(),
		ContainerName: container,
		BlobName:      path,
	}
	params, err := values.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", container, path, err)
	}
	return blobURL + "?" + params.Encode(), nil
}

// objectURL joins the service URL with container and path, escaping each segment.
func (s *AzureStore) objectURL(container, path string) (string, error) {
	u, err := url.Parse(s.client.URL())
	if err != nil {
		return "", fmt.Errorf("parse service url: %w", err)
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/") + "/" + url.PathEscape(container) + "/" + strings.Join(segments, "/"), nil
}

// parseConnectionString splits "Key=Value;..." pairs; keys are lower-cased.
func parseConnectionString(cs string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(cs, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return out
}
