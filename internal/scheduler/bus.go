package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

const (
	FrameSubscribe   = "SUBSCRIBE"
	FrameUnsubscribe = "UNSUBSCRIBE"
	FrameMessage     = "MESSAGE"
)

var ErrNotConnected = errors.New("notification bus not connected")

type Frame struct {
	Type  string          `json:"type"`
	Id    string          `json:"id,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventConnectFailed
)

// Event reports a change of the bus session to its supervising loop.
type Event struct {
	Type EventType
	Err  error
}

func TaskTopic(chainTaskId string) string {
	return constants.TASK_TOPIC_PREFIX + strings.ToLower(chainTaskId)
}

// Bus is the websocket session carrying task notifications from the scheduler.
type Bus struct {
	url     string
	token   func() string
	dialer  *websocket.Dialer
	handler func(models.TaskNotification)
	events  chan Event

	connecting atomic.Bool

	lk   sync.Mutex
	conn *websocket.Conn
	subs map[string]string // chainTaskId -> subscription id

	writeLk sync.Mutex
}

func NewBus(wsUrl string, token func() string, handler func(models.TaskNotification)) *Bus {
	return &Bus{
		url:     wsUrl,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		handler: handler,
		events:  make(chan Event, 16),
		subs:    make(map[string]string),
	}
}

func (b *Bus) Events() <-chan Event {
	return b.events
}

func (b *Bus) IsConnected() bool {
	b.lk.Lock()
	defer b.lk.Unlock()
	return b.conn != nil
}

// Connect opens a new session and subscribes again to every known topic. A
// call made while another connect is in flight is dropped and returns false.
func (b *Bus) Connect(ctx context.Context) bool {
	if !b.connecting.CompareAndSwap(false, true) {
		logs.GetLogger().Warnf("Connect already in progress, dropping trigger")
		return false
	}
	defer b.connecting.Store(false)

	b.closeConn()
	header := http.Header{}
	if token := b.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := b.dialer.DialContext(ctx, b.url, header)
	if err != nil {
		logs.GetLogger().Errorf("Failed connect notification bus, url: %s, error: %+v", b.url, err)
		b.emit(Event{Type: EventConnectFailed, Err: err})
		return false
	}

	b.lk.Lock()
	b.conn = conn
	subs := make(map[string]string, len(b.subs))
	for k, v := range b.subs {
		subs[k] = v
	}
	b.lk.Unlock()

	for chainTaskId, id := range subs {
		if err = b.write(Frame{Type: FrameSubscribe, Id: id, Topic: TaskTopic(chainTaskId)}); err != nil {
			logs.GetLogger().Errorf("Failed resubscribe, chainTaskId: %s, error: %+v", chainTaskId, err)
		}
	}
	go b.readLoop(conn)

	logs.GetLogger().Infof("Connected notification bus, url: %s, subscriptions: %d", b.url, len(subs))
	b.emit(Event{Type: EventConnected})
	return true
}

func (b *Bus) Subscribe(chainTaskId string) {
	b.lk.Lock()
	if _, ok := b.subs[chainTaskId]; ok {
		b.lk.Unlock()
		return
	}
	id := uuid.NewString()
	b.subs[chainTaskId] = id
	b.lk.Unlock()

	if err := b.write(Frame{Type: FrameSubscribe, Id: id, Topic: TaskTopic(chainTaskId)}); err != nil && !errors.Is(err, ErrNotConnected) {
		logs.GetLogger().Errorf("Failed subscribe, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	logs.GetLogger().Infof("Subscribed to task topic, chainTaskId: %s", chainTaskId)
}

func (b *Bus) Unsubscribe(chainTaskId string) {
	b.lk.Lock()
	id, ok := b.subs[chainTaskId]
	delete(b.subs, chainTaskId)
	b.lk.Unlock()
	if !ok {
		return
	}
	if err := b.write(Frame{Type: FrameUnsubscribe, Id: id}); err != nil && !errors.Is(err, ErrNotConnected) {
		logs.GetLogger().Errorf("Failed unsubscribe, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	logs.GetLogger().Infof("Unsubscribed from task topic, chainTaskId: %s", chainTaskId)
}

func (b *Bus) IsSubscribed(chainTaskId string) bool {
	b.lk.Lock()
	defer b.lk.Unlock()
	_, ok := b.subs[chainTaskId]
	return ok
}

func (b *Bus) Close() {
	b.closeConn()
}

func (b *Bus) write(f Frame) error {
	b.lk.Lock()
	conn := b.conn
	b.lk.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b.writeLk.Lock()
	defer b.writeLk.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bus) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.lk.Lock()
			current := b.conn == conn
			if current {
				b.conn = nil
			}
			b.lk.Unlock()
			conn.Close()
			if current {
				logs.GetLogger().Warnf("Notification bus disconnected, error: %+v", err)
				b.emit(Event{Type: EventDisconnected, Err: err})
			}
			return
		}
		b.dispatch(data)
	}
}

func (b *Bus) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		logs.GetLogger().Warnf("Ignoring malformed frame, error: %+v", err)
		return
	}
	if f.Type != FrameMessage {
		return
	}
	var notification models.TaskNotification
	if err := json.Unmarshal(f.Body, &notification); err != nil {
		logs.GetLogger().Warnf("Ignoring malformed notification, topic: %s, error: %+v", f.Topic, err)
		return
	}
	if notification.ChainTaskId == "" {
		notification.ChainTaskId = strings.TrimPrefix(f.Topic, constants.TASK_TOPIC_PREFIX)
	}
	if !b.IsSubscribed(notification.ChainTaskId) {
		logs.GetLogger().Warnf("Ignoring notification for unsubscribed task, chainTaskId: %s", notification.ChainTaskId)
		return
	}
	b.handler(notification)
}

func (b *Bus) emit(e Event) {
	select {
	case b.events <- e:
	default:
		logs.GetLogger().Warnf("Bus event dropped, type: %d", e.Type)
	}
}

func (b *Bus) closeConn() {
	b.lk.Lock()
	conn := b.conn
	b.conn = nil
	b.lk.Unlock()
	if conn != nil {
		conn.Close()
	}
}
