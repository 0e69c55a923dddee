package ui

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/wwwzy/loopie/internal/storage"
)

// Extra 中使用的键
const (
	ExtraHasImage = "has_image"
	ExtraLoader   = "loader"
)

const (
	MsgTranscribing = "Transcribing audio..."
	MsgSorry        = "Sorry, I encountered an error."
)

// MessageStore 持久化对话消息，由 storage.Storage 实现。
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *storage.TranscriptMessage) error
}

// Transcript 是对话区：只追加的消息列表，外加“正在输入”指示。
//
// Append 满足 automation.Sink，自动化进度以 system 消息写入。
type Transcript struct {
	mu       sync.Mutex
	messages []*schema.Message
	typing   bool

	subMu sync.Mutex
	subs  map[int]func()
	next  int

	store     MessageStore
	sessionID string
	logger    *zap.Logger
}

func NewTranscript() *Transcript {
	return &Transcript{subs: map[int]func(){}, logger: zap.NewNop()}
}

// WithStore 开启持久化；加载指示等临时消息不会落库。
func (t *Transcript) WithStore(store MessageStore, sessionID string) *Transcript {
	t.store = store
	t.sessionID = sessionID
	return t
}

func (t *Transcript) WithLogger(l *zap.Logger) *Transcript {
	if l != nil {
		t.logger = l.Named("transcript")
	}
	return t
}

func (t *Transcript) Append(line string) {
	t.add(schema.SystemMessage(line))
}

func (t *Transcript) AddUser(text string, hasImage bool) *schema.Message {
	msg := schema.UserMessage(text)
	if hasImage {
		msg.Extra = map[string]any{ExtraHasImage: true}
	}
	t.add(msg)
	return msg
}

func (t *Transcript) AddAssistant(text string) *schema.Message {
	msg := schema.AssistantMessage(text, nil)
	t.add(msg)
	return msg
}

// ShowLoader 追加一条可移除的临时消息，例如 "Transcribing audio..."。
func (t *Transcript) ShowLoader(text string) *schema.Message {
	msg := schema.AssistantMessage(text, nil)
	msg.Extra = map[string]any{ExtraLoader: true}
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
	t.notify()
	return msg
}

// RemoveLoader 移除 ShowLoader 返回的消息；不存在时忽略。
func (t *Transcript) RemoveLoader(msg *schema.Message) {
	if msg == nil {
		return
	}
	removed := false
	t.mu.Lock()
	for i, m := range t.messages {
		if m == msg {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			removed = true
			break
		}
	}
	t.mu.Unlock()
	if removed {
		t.notify()
	}
}

func (t *Transcript) ShowTyping() {
	t.setTyping(true)
}

func (t *Transcript) RemoveTyping() {
	t.setTyping(false)
}

func (t *Transcript) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Messages 返回当前消息列表的拷贝。
func (t *Transcript) Messages() []*schema.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*schema.Message(nil), t.messages...)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	t.messages = nil
	t.typing = false
	t.mu.Unlock()
	t.notify()
}

// Subscribe 在每次变更后回调 fn（不持锁），返回取消函数。
func (t *Transcript) Subscribe(fn func()) func() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	id := t.next
	t.next++
	t.subs[id] = fn
	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Transcript) add(msg *schema.Message) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()

	t.persist(msg)
	t.notify()
}

func (t *Transcript) setTyping(v bool) {
	t.mu.Lock()
	changed := t.typing != v
	t.typing = v
	t.mu.Unlock()
	if changed {
		t.notify()
	}
}

func (t *Transcript) persist(msg *schema.Message) {
	if t.store == nil {
		return
	}
	hasImage, _ := msg.Extra[ExtraHasImage].(bool)
	err := t.store.InsertMessage(context.Background(), &storage.TranscriptMessage{
		SessionID: t.sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		HasImage:  hasImage,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.logger.Warn("persist transcript message failed", zap.Error(err))
	}
}

func (t *Transcript) notify() {
	t.subMu.Lock()
	fns := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// IsLoader 判断消息是否为临时加载指示。
func IsLoader(msg *schema.Message) bool {
	if msg == nil {
		return false
	}
	v, _ := msg.Extra[ExtraLoader].(bool)
	return v
}
