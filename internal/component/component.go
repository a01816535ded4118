package component

import (
	"github.com/orlandoq/guildpost/internal/cache"
	"github.com/orlandoq/guildpost/internal/cache/freecache"
	"github.com/orlandoq/guildpost/internal/notify"
	"github.com/orlandoq/guildpost/internal/notify/jetstream"
	"github.com/orlandoq/guildpost/internal/notify/logging"
	"github.com/orlandoq/guildpost/internal/storage"
	"github.com/orlandoq/guildpost/internal/storage/minio"
)

func GetSink(notifyType string) (notify.Sink, error) {
	switch notifyType {
	case "jetstream":
		return jetstream.New()
	default:
		return logging.New(), nil
	}
}

func GetStorage(storageType string) (storage.Storage, error) {
	switch storageType {
	default:
		return minio.NewMinioClient()
	}
}

func GetBoardCache() (cache.Cache, error) {
	return freecache.NewFreeCache()
}
