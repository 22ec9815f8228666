// Package progress はファイルIDごとの購読者登録と進捗イベントの配信を提供します。
package progress

import (
	"log"
	"sync"
	"time"
)

const (
	// subscriberBuffer は購読者チャネルのバッファ長です。
	subscriberBuffer = 8
	// defaultSendTimeout を超えて受信しない購読者は配信先から除外します。
	defaultSendTimeout = 50 * time.Millisecond
)

// Event は購読者へ配信される進捗イベントです。
type Event struct {
	FileID   string `json:"file_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// Subscriber は1つのファイルIDに紐づく購読者です。
// イベントは Events チャネル経由で受け取ります。Detach 後は Done が閉じられます。
// Events チャネル自体は閉じません（配信側との競合を避けるため）。
type Subscriber struct {
	fileID string
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

// Events はイベント受信用チャネルを返します。
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Done は購読解除を通知するチャネルを返します。
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// FileID は購読対象のファイルIDを返します。
func (s *Subscriber) FileID() string {
	return s.fileID
}

func (s *Subscriber) markDone() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Hub はファイルID → 購読者集合の登録簿です。
// 登録簿全体を単一の Mutex で保護します。競合は接続の開閉と進捗刻みごとの
// Broadcast 程度で頻度が低いため、バケット単位のロックは採用していません。
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscriber]struct{}
	sendTimeout time.Duration
	logger      *log.Logger
}

// NewHub は Hub を作成します。logger は nil でも構いません。
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		sendTimeout: defaultSendTimeout,
		logger:      logger,
	}
}

// Attach は fileID の購読者を新規登録して返します。
// fileID に対応するレコードが存在するかどうかは関知しません（レコード作成前の
// 購読も許容します）。登録以降の Broadcast のみを受信し、過去分の再送はありません。
func (h *Hub) Attach(fileID string) *Subscriber {
	sub := &Subscriber{
		fileID: fileID,
		ch:     make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subscribers[fileID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[fileID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Detach は購読者を登録簿から外し、Done を閉じます。
// 既に外れている購読者に対しては何もしません。集合が空になった fileID の
// エントリは削除します。
func (h *Hub) Detach(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.subscribers[sub.fileID]; ok {
		if _, registered := set[sub]; registered {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subscribers, sub.fileID)
			}
		}
	}
	h.mu.Unlock()

	sub.markDone()
}

// Broadcast は event.FileID の全購読者へイベントを配信します。
// 1購読者あたり sendTimeout までしか待たず、時間内に受信しない購読者は
// その場で Detach します。1購読者への配信失敗が他の購読者へ波及することは
// ありません。
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	set, ok := h.subscribers[event.FileID]
	if !ok || len(set) == 0 {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
			continue
		case <-sub.done:
			continue
		default:
		}

		// バッファが詰まっている購読者のみタイムアウト付きで待つ
		timer := time.NewTimer(h.sendTimeout)
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-timer.C:
			h.logger.Printf("slow subscriber detached fileID=%s", event.FileID)
			h.Detach(sub)
		}
		timer.Stop()
	}
}

// Count は fileID の現在の購読者数を返します。
func (h *Hub) Count(fileID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[fileID])
}
