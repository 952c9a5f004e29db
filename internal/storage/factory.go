package storage

import (
	"context"
	"fmt"

	"certmill/internal/adapters/storage/gdrive"
	"certmill/internal/adapters/storage/localfs"
	"certmill/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewLocal returns the filesystem store rooted at the data directory.
// This store always exists; it is where the pipeline writes.
func NewLocal(root string) Provider {
	return localfs.New(root)
}

// NewMirror builds the optional archive mirror from config.
// Provider "none" returns (nil, nil): mirroring is disabled.
func NewMirror(cfg config.MirrorConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil

	case "localfs":
		return NewLocal(cfg.Root), nil

	case "gdrive":
		return newGDriveMirror(cfg)

	default:
		return nil, fmt.Errorf("unknown mirror provider: %s", cfg.Provider)
	}
}

func newGDriveMirror(cfg config.MirrorConfig) (Provider, error) {
	ctx := context.Background()

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, cfg.FolderID), nil
}
