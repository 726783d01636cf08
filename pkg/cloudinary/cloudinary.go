package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// AudioStore uploads combined speaking recordings to Cloudinary.
type AudioStore struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary backed audio store.
func New(cfg Config, logger zerolog.Logger) (*AudioStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &AudioStore{
		client: cld,
		folder: cfg.Folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Upload stores the recording and returns its secure URL. The public id is derived from name only,
// so a redelivered job overwrites the asset instead of creating a duplicate.
func (s *AudioStore) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	publicID, format := PublicID(name)

	params := uploader.UploadParams{
		Folder:       strings.Trim(s.folder, "/"),
		PublicID:     publicID,
		Format:       format,
		ResourceType: "video",
		Overwrite:    api.Bool(true),
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload audio: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Int("bytes", result.Bytes).Msg("audio uploaded to cloudinary")

	return result.SecureURL, nil
}

// PublicID turns a file name into a Cloudinary safe public id and its format.
// The generic "audio" extension carries no format information and is dropped.
func PublicID(name string) (string, string) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "recording"
	}
	if ext == "audio" {
		ext = ""
	}

	return base, ext
}
