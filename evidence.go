package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/utils"
	"github.com/creditfield/loan_backend/workflow"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type evidenceSignRequest struct {
	FieldKey string `json:"fieldKey"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type evidenceCompleteRequest struct {
	FieldKey  string `json:"fieldKey"`
	ObjectKey string `json:"objectKey"`
	MimeType  string `json:"mimeType"`
}

type evidenceSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

type evidenceCompleteResponse struct {
	AccessURL          string      `json:"accessUrl"`
	ThumbnailURL       string      `json:"thumbnailUrl,omitempty"`
	ObjectKey          string      `json:"objectKey"`
	ThumbnailObjectKey string      `json:"thumbnailObjectKey,omitempty"`
	Field              interface{} `json:"field"`
}

const maxEvidenceSizeBytes int64 = 5 * 1024 * 1024

var evidenceMimeTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

func evidencePrefix(investigationId int, fieldKey string) string {
	return path.Join("investigations", fmt.Sprint(investigationId), sanitizeSegment(fieldKey)) + "/"
}

func evidenceObjectKey(investigationId int, fieldKey, fileName, mimeType string) (string, error) {
	ext, ok := evidenceMimeTypes[mimeType]
	if !ok {
		return "", fmt.Errorf("unsupported evidence type %q", mimeType)
	}
	if fileExt := strings.ToLower(filepath.Ext(fileName)); fileExt == ext || (fileExt == ".jpeg" && mimeType == "image/jpeg") {
		ext = fileExt
	}
	return evidencePrefix(investigationId, fieldKey) + uuid.NewString() + ext, nil
}

func sanitizeSegment(input string) string {
	var out strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(input)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func thumbnailObjectKey(objectKey string) string {
	return path.Join(path.Dir(objectKey), "thumbnails", path.Base(objectKey))
}

func createThumbnail(ctx context.Context, objectKey string) (string, error) {
	data, err := utils.ReadObjectFromGCS(ctx, objectKey, maxEvidenceSizeBytes)
	if err != nil {
		return "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}
	thumbnailKey := thumbnailObjectKey(objectKey)
	if err := utils.UploadBytesToGCS(ctx, thumbnailKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}

func logEvidenceError(c *gin.Context, stage string, err error) {
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	config.GetLogger().WithFields(logrus.Fields{
		"field":          stage,
		"provider":       utils.GetStorageProvider(),
		"correlation_id": cid,
	}).Error("[evidence.error] " + err.Error())
}

// evidenceSignHandler hands out a signed PUT URL for one field's evidence.
func evidenceSignHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req evidenceSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.FieldKey == "" || req.MimeType == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fieldKey, mimeType and size are required"})
			return
		}
		if req.Size > maxEvidenceSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}
		inv, err := svc.GetInvestigation(c.Request.Context(), id)
		if err != nil {
			writeError(c, "evidenceSignHandler", err)
			return
		}
		if _, _, err := inv.Field(req.FieldKey); err != nil {
			writeError(c, "evidenceSignHandler", err)
			return
		}
		objectKey, err := evidenceObjectKey(id, req.FieldKey, req.FileName, req.MimeType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		signed, err := utils.SignEvidenceUpload(c.Request.Context(), objectKey, req.MimeType, maxEvidenceSizeBytes, 15*time.Minute)
		if err != nil {
			logEvidenceError(c, "evidenceSignHandler", err)
			message := "failed to sign upload"
			if !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
				message = fmt.Sprintf("failed to sign upload: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": message})
			return
		}

		config.GetLogger().WithFields(logrus.Fields{
			"investigation_id": id,
			"field_key":        req.FieldKey,
			"mime_type":        req.MimeType,
			"size":             req.Size,
			"object_key":       objectKey,
		}).Info("[evidence.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": evidenceSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// evidenceCompleteHandler links an uploaded object to its field, making a
// thumbnail first for images.
func evidenceCompleteHandler(svc *workflow.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := investigationIdParam(c)
		if !ok {
			return
		}
		var req evidenceCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.FieldKey == "" || req.ObjectKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fieldKey and objectKey are required"})
			return
		}
		if !strings.HasPrefix(req.ObjectKey, evidencePrefix(id, req.FieldKey)) || strings.Contains(req.ObjectKey, "..") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
			return
		}

		ctx := c.Request.Context()
		response := evidenceCompleteResponse{
			ObjectKey: req.ObjectKey,
			AccessURL: utils.BuildObjectAccessURL(req.ObjectKey),
		}
		if strings.HasPrefix(req.MimeType, "image/") {
			thumbnailKey, err := createThumbnail(ctx, req.ObjectKey)
			if err != nil {
				logEvidenceError(c, "evidenceCompleteHandler", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail"})
				return
			}
			response.ThumbnailURL = utils.BuildObjectAccessURL(thumbnailKey)
			response.ThumbnailObjectKey = thumbnailKey
		}

		f, err := svc.AttachEvidence(ctx, id, req.FieldKey, req.ObjectKey)
		if err != nil {
			writeError(c, "evidenceCompleteHandler", err)
			return
		}
		response.Field = f

		config.GetLogger().WithFields(logrus.Fields{
			"investigation_id": id,
			"field_key":        req.FieldKey,
			"object_key":       req.ObjectKey,
			"status":           "completed",
		}).Info("[evidence.complete]")

		c.JSON(http.StatusOK, gin.H{"data": response})
	}
}
