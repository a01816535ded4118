package storage

import "context"

// Storage holds material file payloads. Keys are object paths produced by
// util.MaterialObjectPath.
type Storage interface {
	Upload(ctx context.Context, objectPath string, data []byte) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	ShutDown(ctx context.Context)
}
