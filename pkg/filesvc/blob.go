package filesvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// DirectoryMarker is the blob written to represent an ensured directory.
const DirectoryMarker = ".keep"

// Blob ensures files as blobs in an Azure storage container using shared
// keys. Directories are represented by a marker blob under the prefix.
type Blob struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewBlob creates a blob file service from a standard connection string.
func NewBlob(connectionString, containerName string, logger *zap.Logger) (*Blob, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &Blob{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

func (b *Blob) EnsureFile(ctx context.Context, path string) error {
	return b.ensureBlob(ctx, blobPath(path))
}

func (b *Blob) EnsureDirectory(ctx context.Context, path string) error {
	prefix := strings.TrimSuffix(blobPath(path), "/")
	if prefix == "" {
		return b.ensureContainer(ctx)
	}
	return b.ensureBlob(ctx, prefix+"/"+DirectoryMarker)
}

func (b *Blob) ensureBlob(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("blob path is empty")
	}
	if err := b.ensureContainer(ctx); err != nil {
		return err
	}

	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlockBlobClient(name)
	if _, err := blobClient.GetProperties(ctx, nil); err == nil {
		return nil
	} else if !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to check blob %s: %w", name, err)
	}

	if _, err := blobClient.UploadBuffer(ctx, []byte{}, nil); err != nil {
		b.logger.Error("Failed to create blob",
			zap.String("blob_path", name),
			zap.Error(err))
		return fmt.Errorf("blob create failed: %w", err)
	}
	b.logger.Debug("ensured blob", zap.String("blob_path", name))
	return nil
}

func (b *Blob) ensureContainer(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.containerInit {
		return nil
	}

	_, err := b.client.CreateContainer(ctx, b.containerName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.ContainerAlreadyExists) {
			b.containerInit = true
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	b.containerInit = true
	return nil
}

func blobPath(path string) string {
	return strings.TrimPrefix(strings.ReplaceAll(path, "\\", "/"), "/")
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}
