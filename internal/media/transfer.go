package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/jmadeira/wabridge/internal/paths"
	"github.com/jmadeira/wabridge/internal/store"
)

// ErrIncompleteMediaInfo means the stored descriptor is missing fields
// required to fetch and decrypt the attachment.
var ErrIncompleteMediaInfo = errors.New("incomplete media information for download")

// ErrNotFound means no message with the given id exists.
var ErrNotFound = errors.New("message not found")

// ErrNotMedia means the message exists but carries no attachment.
var ErrNotMedia = errors.New("message has no media attachment")

// Client is the subset of the network adapter the transfer service
// needs.
type Client interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// Service transfers attachments between the network and local disk.
type Service struct {
	db      *store.DB
	client  Client
	dataDir string
	logger  *zap.Logger
}

// NewService creates a media transfer service.
func NewService(db *store.DB, client Client, dataDir string, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		client:  client,
		dataDir: dataDir,
		logger:  logger,
	}
}

// Download fetches the attachment of a stored message to local disk and
// returns its kind, filename and absolute path. A file already on disk
// is returned without touching the network, even when the stored
// descriptor has since degraded.
func (s *Service) Download(ctx context.Context, msgID, chatJID string) (mediaType, filename, absPath string, err error) {
	info, err := s.db.GetMediaInfo(msgID, chatJID)
	if err != nil {
		return "", "", "", fmt.Errorf("load media info: %w", err)
	}
	if info == nil {
		return "", "", "", ErrNotFound
	}
	if info.MediaType == "" {
		return "", "", "", ErrNotMedia
	}

	dir := paths.ChatMediaDir(s.dataDir, chatJID)
	absPath = filepath.Join(dir, info.Filename)
	if _, statErr := os.Stat(absPath); statErr == nil {
		return info.MediaType, info.Filename, absPath, nil
	}

	if !info.Complete() {
		return "", "", "", ErrIncompleteMediaInfo
	}

	downloadable, err := buildDownloadable(info)
	if err != nil {
		return "", "", "", err
	}
	data, err := s.client.Download(ctx, downloadable)
	if err != nil {
		return "", "", "", fmt.Errorf("download media: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", "", fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return "", "", "", fmt.Errorf("write media file: %w", err)
	}

	s.logger.Info("media downloaded",
		zap.String("msg_id", msgID),
		zap.String("type", info.MediaType),
		zap.Int("bytes", len(data)))
	return info.MediaType, info.Filename, absPath, nil
}

// buildDownloadable reconstructs a protocol message carrying just the
// fields the downloader reads.
func buildDownloadable(info *store.MediaInfo) (whatsmeow.DownloadableMessage, error) {
	directPath := extractDirectPath(info.URL)
	switch info.MediaType {
	case "image":
		return &waE2E.ImageMessage{
			URL:           proto.String(info.URL),
			DirectPath:    proto.String(directPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileLength),
		}, nil
	case "video":
		return &waE2E.VideoMessage{
			URL:           proto.String(info.URL),
			DirectPath:    proto.String(directPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileLength),
		}, nil
	case "audio":
		return &waE2E.AudioMessage{
			URL:           proto.String(info.URL),
			DirectPath:    proto.String(directPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileLength),
		}, nil
	case "document":
		return &waE2E.DocumentMessage{
			URL:           proto.String(info.URL),
			DirectPath:    proto.String(directPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileLength),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported media type %q", info.MediaType)
	}
}

// extractDirectPath derives the CDN direct path from a full media URL.
func extractDirectPath(url string) string {
	_, after, found := strings.Cut(url, ".net/")
	if !found {
		return url
	}
	path := "/" + after
	if q := strings.Index(path, "?"); q >= 0 {
		path = path[:q]
	}
	return path
}

// ComposeMessage uploads a local file and builds the outgoing message
// for it. With no media path, a plain text message is returned. Audio
// files are sent as voice notes with an analyzed duration and waveform.
func (s *Service) ComposeMessage(ctx context.Context, body, mediaPath string) (*waE2E.Message, error) {
	if mediaPath == "" {
		return &waE2E.Message{Conversation: proto.String(body)}, nil
	}

	data, err := os.ReadFile(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}
	kind, mime := classifyFile(mediaPath)

	resp, err := s.client.Upload(ctx, data, kind)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	switch kind {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(body),
			Mimetype:      proto.String(mime),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}}, nil
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(body),
			Mimetype:      proto.String(mime),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}}, nil
	case whatsmeow.MediaAudio:
		seconds, waveform := AnalyzeVoiceNote(data, s.logger)
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
			Seconds:       proto.Uint32(seconds),
			PTT:           proto.Bool(true),
			Waveform:      waveform,
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(filepath.Base(mediaPath)),
			FileName:      proto.String(filepath.Base(mediaPath)),
			Caption:       proto.String(body),
			Mimetype:      proto.String(mime),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}}, nil
	}
}

// classifyFile maps a file extension to an upload kind and mime type.
func classifyFile(path string) (whatsmeow.MediaType, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return whatsmeow.MediaImage, "image/jpeg"
	case ".png":
		return whatsmeow.MediaImage, "image/png"
	case ".gif":
		return whatsmeow.MediaImage, "image/gif"
	case ".webp":
		return whatsmeow.MediaImage, "image/webp"
	case ".ogg":
		return whatsmeow.MediaAudio, "audio/ogg; codecs=opus"
	case ".mp4":
		return whatsmeow.MediaVideo, "video/mp4"
	case ".avi":
		return whatsmeow.MediaVideo, "video/avi"
	case ".mov":
		return whatsmeow.MediaVideo, "video/quicktime"
	default:
		return whatsmeow.MediaDocument, "application/octet-stream"
	}
}
