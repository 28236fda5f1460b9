// Package bridge runs the websocket connection to the browser extension.
// Inbound messages are runtime events (dispatched into the activity tracker)
// and RPC results; outbound messages are tab query/update requests. The
// bridge is the production implementation of the browser capability surface.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mfriis/tabnap/internal/activity"
	"github.com/mfriis/tabnap/internal/browser"
	"github.com/mfriis/tabnap/internal/observability"
	"github.com/mfriis/tabnap/internal/persist"
	"github.com/mfriis/tabnap/internal/protocol"
)

const (
	outboundBuffer    = 64
	writeTimeout      = 10 * time.Second
	readTimeout       = 120 * time.Second
	defaultRPCTimeout = 15 * time.Second
)

var (
	ErrNotConnected = errors.New("extension bridge not connected")
	errQueueFull    = errors.New("bridge outbound queue full")
)

// Bridge owns at most one live extension connection at a time. A newly
// connecting extension replaces the previous connection.
type Bridge struct {
	tracker       *activity.Tracker
	activityQueue *persist.Queue
	metrics       *observability.Metrics
	rpcTimeout    time.Duration
	onConnect     func()

	mu      sync.Mutex
	conn    *websocket.Conn
	out     chan any
	pending map[string]chan any
	ready   chan struct{}
}

type Config struct {
	Tracker       *activity.Tracker
	ActivityQueue *persist.Queue
	Metrics       *observability.Metrics
	RPCTimeout    time.Duration

	// OnConnect runs in its own goroutine after an extension connects;
	// used for startup seeding and pruning against the live tab set.
	OnConnect func()
}

func New(cfg Config) *Bridge {
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &Bridge{
		tracker:       cfg.Tracker,
		activityQueue: cfg.ActivityQueue,
		metrics:       cfg.Metrics,
		rpcTimeout:    timeout,
		onConnect:     cfg.OnConnect,
		pending:       make(map[string]chan any),
		ready:         make(chan struct{}),
	}
}

// Connected reports whether an extension connection is live.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// WaitReady blocks until an extension is connected.
func (b *Bridge) WaitReady(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.conn != nil {
			b.mu.Unlock()
			return nil
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("waiting for extension bridge: %w", ctx.Err())
		}
	}
}

// Run services one upgraded websocket connection until it drops. It blocks;
// the HTTP handler calls it directly.
func (b *Bridge) Run(conn *websocket.Conn) {
	out := make(chan any, outboundBuffer)

	b.mu.Lock()
	old := b.conn
	b.conn = conn
	b.out = out
	if old == nil {
		close(b.ready)
	}
	b.mu.Unlock()
	if old != nil {
		log.Printf("bridge: replacing existing extension connection")
		_ = old.Close()
	}
	if b.onConnect != nil {
		go b.onConnect()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range out {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("bridge: write failed: %v", err)
				_ = conn.Close()
				return
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseBridgeMessage(data)
		if err != nil {
			log.Printf("bridge: dropping message: %v", err)
			continue
		}
		b.dispatch(parsed)
	}

	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn = nil
		b.out = nil
		b.ready = make(chan struct{})
	}
	b.mu.Unlock()
	close(out)
	<-writerDone
	// The pending map is shared across connections. Only losing the current
	// connection fails pending calls; a replaced connection's teardown must
	// not touch RPCs already issued on its successor.
	if current {
		b.failPending()
	}
}

func (b *Bridge) dispatch(msg any) {
	switch m := msg.(type) {
	case protocol.Hello:
		b.countInbound(protocol.TypeHello)
		log.Printf("bridge: extension connected: %s %s", m.Extension, m.Version)
	case protocol.TabActivated:
		b.countInbound(protocol.TypeTabActivated)
		if b.tracker.MarkTabActive(m.TabID, m.WindowID, minuteOf(m.TSMs)) {
			b.markDirty()
		}
	case protocol.TabUpdated:
		b.countInbound(protocol.TypeTabUpdated)
		if b.tracker.MarkTabUpdated(m.TabID, m.WindowID, minuteOf(m.TSMs)) {
			b.markDirty()
		}
	case protocol.TabRemoved:
		b.countInbound(protocol.TypeTabRemoved)
		if b.tracker.RemoveTab(m.TabID) {
			b.markDirty()
		}
	case protocol.TabReplaced:
		b.countInbound(protocol.TypeTabReplaced)
		if b.tracker.ReplaceTab(m.AddedTabID, m.RemovedTabID, minuteOf(m.TSMs)) {
			b.markDirty()
		}
	case protocol.WindowFocusChanged:
		b.countInbound(protocol.TypeWindowFocusChanged)
		minute := minuteOf(m.TSMs)
		changed := false
		if m.BlurredWindowID >= 0 {
			changed = b.tracker.MarkWindowActiveTabInactive(m.BlurredWindowID, minute) || changed
		}
		if m.FocusedWindowID >= 0 {
			if tabID, ok := b.tracker.ActiveTabOf(m.FocusedWindowID); ok {
				changed = b.tracker.MarkTabActive(tabID, m.FocusedWindowID, minute) || changed
			}
		}
		if changed {
			b.markDirty()
		}
	case protocol.TabsResult:
		b.countInbound(protocol.TypeTabsResult)
		b.resolve(m.ID, m)
	case protocol.UpdateResult:
		b.countInbound(protocol.TypeUpdateResult)
		b.resolve(m.ID, m)
	}
	if b.metrics != nil {
		b.metrics.TrackedTabs.Set(float64(b.tracker.Len()))
	}
}

// QueryTabs implements browser.Querier over the bridge.
func (b *Bridge) QueryTabs(ctx context.Context, f browser.Filter) ([]browser.Tab, error) {
	res, err := b.call(ctx, func(id string) any {
		return protocol.QueryTabs{Type: protocol.TypeQueryTabs, ID: id, Filter: f}
	})
	if err != nil {
		return nil, err
	}
	result, ok := res.(protocol.TabsResult)
	if !ok {
		return nil, fmt.Errorf("unexpected tabs result %T", res)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("extension tab query: %s", result.Error)
	}
	return result.Tabs, nil
}

// UpdateTabURL implements browser.Mutator over the bridge.
func (b *Bridge) UpdateTabURL(ctx context.Context, tabID int, url string) error {
	res, err := b.call(ctx, func(id string) any {
		return protocol.UpdateTab{Type: protocol.TypeUpdateTab, ID: id, TabID: tabID, URL: url}
	})
	if err != nil {
		return err
	}
	result, ok := res.(protocol.UpdateResult)
	if !ok {
		return fmt.Errorf("unexpected update result %T", res)
	}
	if result.Error != "" {
		return fmt.Errorf("extension tab update: %s", result.Error)
	}
	return nil
}

func (b *Bridge) call(ctx context.Context, build func(id string) any) (any, error) {
	id := uuid.NewString()
	ch := make(chan any, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.send(build(id)); err != nil {
		b.countRPCError("send")
		return nil, err
	}

	timer := time.NewTimer(b.rpcTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if err, ok := res.(error); ok {
			b.countRPCError("disconnected")
			return nil, err
		}
		return res, nil
	case <-timer.C:
		b.countRPCError("timeout")
		return nil, fmt.Errorf("bridge rpc timed out after %s", b.rpcTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) send(msg any) error {
	b.mu.Lock()
	out := b.out
	b.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}
	select {
	case out <- msg:
	default:
		return errQueueFull
	}
	if b.metrics != nil {
		switch msg.(type) {
		case protocol.QueryTabs:
			b.metrics.BridgeMessages.WithLabelValues("outbound", string(protocol.TypeQueryTabs)).Inc()
		case protocol.UpdateTab:
			b.metrics.BridgeMessages.WithLabelValues("outbound", string(protocol.TypeUpdateTab)).Inc()
		}
	}
	return nil
}

func (b *Bridge) resolve(id string, res any) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		log.Printf("bridge: result for unknown request %s", id)
		return
	}
	ch <- res
}

func (b *Bridge) failPending() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan any)
	b.mu.Unlock()
	for _, ch := range pending {
		ch <- ErrNotConnected
	}
}

func (b *Bridge) markDirty() {
	if b.activityQueue != nil {
		b.activityQueue.MarkDirty()
	}
}

func (b *Bridge) countInbound(t protocol.MessageType) {
	if b.metrics != nil {
		b.metrics.BridgeMessages.WithLabelValues("inbound", string(t)).Inc()
	}
}

func (b *Bridge) countRPCError(kind string) {
	if b.metrics != nil {
		b.metrics.BridgeRPCErrors.WithLabelValues(kind).Inc()
	}
}

// minuteOf converts an event timestamp to an epoch-minute, falling back to
// the current time when the extension omits it.
func minuteOf(tsMs int64) int64 {
	if tsMs > 0 {
		return tsMs / 60_000
	}
	return activity.MinuteOf(time.Now())
}
