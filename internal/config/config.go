package config

import (
	"fmt"
	"os"
	"strconv"
)

type NatsConfig struct {
	URL         string
	STREAM_NAME string
}

type FreeCacheConfig struct {
	SIZE_BYTES int
	TTL        int
}

type MinioConfig struct {
	URL              string
	MATERIALS_BUCKET string
	ACCESS_KEY       string
	SECRET_KEY       string
	USE_SSL          bool
}

type PostgresConfig struct {
	URL string
}

type SweeperConfig struct {
	INTERVAL_SECONDS int
}

type Config struct {
	SERVICE_NAME string
	TRACE_URL    string
	NOTIFY_TYPE  string
	STORAGE_TYPE string
}

func env(key string) string {
	v := os.Getenv(key)
	return v
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	sn := env("JETSTREAM_STREAM_NAME")
	if sn == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_STREAM_NAME is empty")
	}
	return &NatsConfig{
		URL:         url,
		STREAM_NAME: sn,
	}, nil
}

func GetFreeCacheConfig() (*FreeCacheConfig, error) {
	ttl, err := convertStringToInt(env("FREECACHE_TTL"), "FREECACHE_TTL")
	if err != nil {
		return nil, err
	}
	fs, err := convertStringToInt(env("FREECACHE_SIZE"), "FREECACHE_SIZE")
	if err != nil {
		return nil, err
	}
	return &FreeCacheConfig{
		TTL:        ttl,
		SIZE_BYTES: fs,
	}, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{
		URL: url,
	}, nil
}

func GetSweeperConfig() (*SweeperConfig, error) {
	interval, err := convertStringToInt(env("SWEEP_INTERVAL_SECONDS"), "SWEEP_INTERVAL_SECONDS")
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("KEY: SWEEP_INTERVAL_SECONDS must be positive")
	}
	return &SweeperConfig{
		INTERVAL_SECONDS: interval,
	}, nil
}

func GetConfig() (*Config, error) {
	sn := env("SERVICE_NAME")
	if sn == "" {
		return nil, fmt.Errorf("KEY: SERVICE_NAME is empty")
	}
	turl := env("TRACE_URL")
	nt := env("NOTIFY_TYPE")
	if nt == "" {
		return nil, fmt.Errorf("KEY: NOTIFY_TYPE is empty")
	}
	st := env("STORAGE_TYPE")
	if st == "" {
		return nil, fmt.Errorf("KEY: STORAGE_TYPE is empty")
	}
	return &Config{
		SERVICE_NAME: sn,
		TRACE_URL:    turl,
		NOTIFY_TYPE:  nt,
		STORAGE_TYPE: st,
	}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_ENDPOINT is empty")
	}

	mb := env("MINIO_MATERIALS_BUCKET")
	if mb == "" {
		return nil, fmt.Errorf("KEY: MINIO_MATERIALS_BUCKET is empty")
	}

	ssl := env("MINIO_USE_SSL")
	if ssl != "true" && ssl != "false" {
		return nil, fmt.Errorf("KEY: MINIO_USE_SSL is invalid")
	}

	ak := env("MINIO_ACCESS_KEY")
	if ak == "" {
		return nil, fmt.Errorf("KEY: MINIO_ACCESS_KEY is empty")
	}

	sk := env("MINIO_SECRET_KEY")
	if sk == "" {
		return nil, fmt.Errorf("KEY: MINIO_SECRET_KEY is empty")
	}

	return &MinioConfig{
		URL:              url,
		MATERIALS_BUCKET: mb,
		USE_SSL:          ssl == "true",
		ACCESS_KEY:       ak,
		SECRET_KEY:       sk,
	}, nil
}
