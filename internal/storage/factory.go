package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"vidrender/internal/adapters/storage/gdrive"
	"vidrender/internal/adapters/storage/localfs"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Config selects and configures a storage provider.
type Config struct {
	Provider  string // "localfs" (default) or "gdrive"
	LocalRoot string

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string
}

// ConfigFromEnv reads STORAGE_PROVIDER, STORAGE_LOCAL_ROOT and GDRIVE_*.
func ConfigFromEnv() Config {
	return Config{
		Provider:           strings.TrimSpace(os.Getenv("STORAGE_PROVIDER")),
		LocalRoot:          strings.TrimSpace(os.Getenv("STORAGE_LOCAL_ROOT")),
		GDriveClientID:     strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID")),
		GDriveClientSecret: strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET")),
		GDriveRefreshToken: strings.TrimSpace(os.Getenv("GDRIVE_REFRESH_TOKEN")),
		GDriveFolderID:     strings.TrimSpace(os.Getenv("GDRIVE_FOLDER_ID")),
	}
}

func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("missing env: STORAGE_LOCAL_ROOT")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func newGDriveProvider(ctx context.Context, cfg Config) (Provider, error) {
	for k, v := range map[string]string{
		"GDRIVE_CLIENT_ID":     cfg.GDriveClientID,
		"GDRIVE_CLIENT_SECRET": cfg.GDriveClientSecret,
		"GDRIVE_REFRESH_TOKEN": cfg.GDriveRefreshToken,
	} {
		if v == "" {
			return nil, fmt.Errorf("missing env: %s", k)
		}
	}

	conf := &oauth2.Config{
		ClientID:     cfg.GDriveClientID,
		ClientSecret: cfg.GDriveClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}
	httpClient := conf.Client(context.WithoutCancel(ctx), tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}
