package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/media"
)

type chatEntry struct {
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

type messageEntry struct {
	ID        string `json:"id"`
	ChatJID   string `json:"chat_jid"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	FromMe    bool   `json:"from_me"`
	MediaType string `json:"type,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"connected": s.session.Connected(),
		"state":     string(s.session.State()),
	}
	if jid := s.session.JID(); jid != "" {
		resp["jid"] = jid
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQR(c *gin.Context) {
	// Pairing codes rotate; a cached response would show a dead code.
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	dataURL, expiresIn, ok := s.session.QRDataURL()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active pairing code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"qr":         dataURL,
		"expires_in": int(expiresIn.Seconds()),
	})
}

func (s *Server) handleChats(c *gin.Context) {
	chats, err := s.db.ListChats()
	if err != nil {
		s.logger.Error("failed to list chats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}

	resp := make(map[string]chatEntry, len(chats))
	for _, chat := range chats {
		resp[chat.JID] = chatEntry{
			Name:      chat.Name,
			Timestamp: time.UnixMilli(chat.LastMessageAt).UTC().Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMessages(c *gin.Context) {
	chatID := c.Query("chatId")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId query parameter is required"})
		return
	}

	msgs, err := s.db.ListMessages(chatID, s.window, 0)
	if err != nil {
		s.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	resp := make([]messageEntry, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageEntry{
			ID:        m.MsgID,
			ChatJID:   m.ChatJID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339),
			FromMe:    m.FromMe,
			MediaType: m.Media.MediaType,
			Filename:  m.Media.Filename,
		})
	}
	c.JSON(http.StatusOK, resp)
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	MediaPath string `json:"media_path"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
		return
	}

	clientID, err := s.sender.Queue(req.Recipient, req.Message, req.MediaPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "queued", "id": clientID})
}

type downloadRequest struct {
	MessageID string `json:"message_id"`
	ChatJID   string `json:"chat_jid"`
}

func (s *Server) handleDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MessageID == "" || req.ChatJID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id and chat_jid are required"})
		return
	}

	mediaType, filename, absPath, err := s.media.Download(c.Request.Context(), req.MessageID, req.ChatJID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"type":     mediaType,
			"filename": filename,
			"path":     absPath,
		})
	case errors.Is(err, media.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, media.ErrNotMedia), errors.Is(err, media.ErrIncompleteMediaInfo):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("media download failed",
			zap.String("msg_id", req.MessageID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "download failed"})
	}
}

func (s *Server) handleSync(c *gin.Context) {
	if err := s.syncer.Trigger(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requested": true})
}

func (s *Server) handleContact(c *gin.Context) {
	name, pushName, number, err := s.dir.ContactInfo(c.Request.Context(), c.Param("jid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"push_name": pushName,
		"number":    number,
	})
}

func (s *Server) handleProfilePicture(c *gin.Context) {
	url, id, err := s.dir.ProfilePictureURL(c.Request.Context(), c.Param("jid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if url == "" {
		c.JSON(http.StatusOK, gin.H{"found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "url": url, "id": id})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.session.Logout(c.Request.Context()); err != nil {
		s.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

func (s *Server) handleRestart(c *gin.Context) {
	s.session.Restart()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "restarting"})
}
