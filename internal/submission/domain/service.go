package domain

import (
	"context"
	"errors"
)

// Service is the upload surface consumed by the client layer.
type Service interface {
	InitiateUpload(ctx context.Context, req UploadRequest) (*UploadResponse, error)
	GetStatus(ctx context.Context, id string) (*StatusResponse, error)
}

var (
	ErrNotFound           = errors.New("submission_not_found")
	ErrInvalidID          = errors.New("invalid_submission_id")
	ErrInvalidDriver      = errors.New("invalid_driver_id")
	ErrInvalidFilename    = errors.New("invalid_filename")
	ErrInvalidContentType = errors.New("invalid_content_type")
	ErrInvalidExtension   = errors.New("invalid_file_extension")
	ErrInvalidSize        = errors.New("invalid_size")
	ErrFileTooLarge       = errors.New("file_too_large")
	ErrUploadRateLimited  = errors.New("upload_rate_limited")
	ErrUploadTargetFailed = errors.New("upload_target_failed")
)
