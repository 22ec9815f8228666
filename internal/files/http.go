package files

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandlerOptions はアップロード受付の設定です。
type HandlerOptions struct {
	Scheduler   Scheduler
	MaxFileSize int64
}

// UploadHandler は POST /files のハンドラーを返します。
// ファイルを保存してレコードを作成し、解析ジョブを投入したらすぐに応答します
// （解析完了は待ちません）。
func UploadHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		header, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		if opts.MaxFileSize > 0 && header.Size > opts.MaxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": "ファイルサイズが上限を超えています。",
			})
			return
		}

		src, err := header.Open()
		if err != nil {
			respondWithError(c, fmt.Errorf("failed to open upload: %w", err))
			return
		}
		defer src.Close()

		record, err := svc.Intake(c.Request.Context(), header.Filename, src)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if opts.Scheduler != nil {
			if err := opts.Scheduler.Schedule(c.Request.Context(), record.FileID); err != nil {
				if cleanupErr := svc.Remove(c.Request.Context(), record.FileID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				respondWithError(c, err)
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"file_id":  record.FileID,
			"status":   record.Status,
			"progress": record.Progress,
		})
	}
}

// ProgressHandler は GET /files/:id/progress のハンドラーを返します。
func ProgressHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := svc.Query(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"file_id":  record.FileID,
			"status":   record.Status,
			"progress": record.Progress,
		})
	}
}

// ContentHandler は GET /files/:id のハンドラーを返します。
// ready であれば解析結果を、それ以外は処理中である旨のメッセージを返します。
func ContentHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := svc.Query(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		if record.Status != StatusReady {
			c.JSON(http.StatusOK, gin.H{
				"message": "File upload or processing in progress. Please try again later.",
			})
			return
		}

		if record.ParsedContent == nil {
			c.JSON(http.StatusOK, gin.H{
				"message": "No parsed content available",
			})
			return
		}
		c.JSON(http.StatusOK, record.ParsedContent)
	}
}

// ListHandler は GET /files のハンドラーを返します。
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := svc.List(c.Request.Context())
		if err != nil {
			respondWithError(c, err)
			return
		}

		result := make([]gin.H, 0, len(records))
		for _, record := range records {
			result = append(result, gin.H{
				"file_id":    record.FileID,
				"filename":   record.Filename,
				"status":     record.Status,
				"progress":   record.Progress,
				"created_at": record.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, result)
	}
}

// DeleteHandler は DELETE /files/:id のハンドラーを返します。
func DeleteHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := c.Param("id")
		if err := svc.Remove(c.Request.Context(), fileID); err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("File %s deleted successfully.", fileID),
		})
	}
}

func respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "FILE_NOT_FOUND",
			"message": "指定されたファイルは存在しません。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("アップロードするファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if file := form.File["file[]"]; len(file) > 0 {
		return file[0], nil
	}
	if files := form.File["files"]; len(files) > 0 {
		return files[0], nil
	}
	if alt := form.File["files[]"]; len(alt) > 0 {
		return alt[0], nil
	}
	return nil, errors.New("アップロードするファイルを選択してください。")
}
