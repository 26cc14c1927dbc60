package filesvc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalEnsureFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewLocal(nil)
	path := filepath.Join(dir, "a", "b", "out.csv")

	require.NoError(t, svc.EnsureFile(context.Background(), path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))
	require.NoError(t, svc.EnsureFile(context.Background(), path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data), "existing content must survive")
}

func TestLocalEnsureDirectoryConcurrently(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "x", "y")
	svc := NewLocal(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.EnsureDirectory(context.Background(), dir))
		}()
	}
	wg.Wait()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewLocal(nil).EnsureFile(ctx, filepath.Join(t.TempDir(), "f")))
}

func TestNewBlob(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
	}{
		{
			name:          "empty connection string",
			containerName: "c",
			errContains:   "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: "AccountName=test;AccountKey=dGVzdA==",
			errContains:      "container name is required",
		},
		{
			name:             "missing key",
			connectionString: "AccountName=test",
			containerName:    "c",
			errContains:      "account name and key are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewBlob(tt.connectionString, tt.containerName, logger)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}

	svc, err := NewBlob("DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=dGVzdA==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1", "c", logger)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=a; AccountKey=k==;;bad;BlobEndpoint=http://x")
	assert.Equal(t, "a", params["AccountName"])
	assert.Equal(t, "k==", params["AccountKey"])
	assert.Equal(t, "http://x", params["BlobEndpoint"])
	assert.NotContains(t, params, "bad")
}

func TestBlobPath(t *testing.T) {
	assert.Equal(t, "out/a.txt", blobPath(`/out\a.txt`))
}
