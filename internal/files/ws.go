package files

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/parseflow/internal/progress"
)

const (
	// socketWriteWait は1イベントの書き込みに許す最大時間です。
	socketWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// オリジン検証はHTTP側のCORS設定に委ねる
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressSocketHandler は GET /ws/progress/:id のハンドラーを返します。
// 接続時に購読者として登録し、以降の進捗イベントをJSONで送信します。
// クライアントからの受信メッセージは接続維持の合図としてのみ扱い、内容は
// 無視します。終端状態のイベントを送信したら接続を閉じます。
//
// 接続前に配信されたイベントの再送はありません。既に終端状態のファイルを
// 購読した場合、イベントは届きません（現在状態は同期APIで照会できます）。
func ProgressSocketHandler(hub *progress.Hub, logger *log.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(c *gin.Context) {
		fileID := c.Param("id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade はエラー応答を書き込み済み
			logger.Printf("websocket upgrade failed fileID=%s: %v", fileID, err)
			return
		}

		sub := hub.Attach(fileID)
		defer hub.Detach(sub)
		defer conn.Close()

		// 受信側は切断検知のためだけに読み続ける
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-readerDone:
				return
			case <-sub.Done():
				return
			case event := <-sub.Events():
				conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
				if err := conn.WriteJSON(event); err != nil {
					logger.Printf("websocket write failed fileID=%s: %v", fileID, err)
					return
				}
				if Status(event.Status).IsTerminal() {
					message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(socketWriteWait))
					return
				}
			}
		}
	}
}
