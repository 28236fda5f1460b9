package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mfriis/tabnap/internal/browser"
)

// MessageType identifies websocket payload variants on the extension bridge.
type MessageType string

const (
	// Inbound runtime events.
	TypeHello              MessageType = "hello"
	TypeTabActivated       MessageType = "tab_activated"
	TypeTabUpdated         MessageType = "tab_updated"
	TypeTabRemoved         MessageType = "tab_removed"
	TypeTabReplaced        MessageType = "tab_replaced"
	TypeWindowFocusChanged MessageType = "window_focus_changed"

	// RPC between daemon and extension. Requests flow outbound, results
	// inbound, correlated by id.
	TypeQueryTabs    MessageType = "query_tabs"
	TypeTabsResult   MessageType = "tabs_result"
	TypeUpdateTab    MessageType = "update_tab"
	TypeUpdateResult MessageType = "update_result"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Hello announces a connecting extension.
type Hello struct {
	Type      MessageType `json:"type"`
	Extension string      `json:"extension"`
	Version   string      `json:"version"`
}

// TabActivated reports a tab coming to the foreground of its window.
type TabActivated struct {
	Type     MessageType `json:"type"`
	TabID    int         `json:"tab_id"`
	WindowID int         `json:"window_id"`
	TSMs     int64       `json:"ts_ms"`
}

// TabUpdated reports a navigation or load in a backgrounded tab.
type TabUpdated struct {
	Type     MessageType `json:"type"`
	TabID    int         `json:"tab_id"`
	WindowID int         `json:"window_id"`
	TSMs     int64       `json:"ts_ms"`
}

// TabRemoved reports a closed tab.
type TabRemoved struct {
	Type  MessageType `json:"type"`
	TabID int         `json:"tab_id"`
	TSMs  int64       `json:"ts_ms"`
}

// TabReplaced reports the browser swapping a tab id in place (e.g. after
// prerendering).
type TabReplaced struct {
	Type         MessageType `json:"type"`
	AddedTabID   int         `json:"added_tab_id"`
	RemovedTabID int         `json:"removed_tab_id"`
	TSMs         int64       `json:"ts_ms"`
}

// WindowFocusChanged reports browser window focus moving. Either id may be
// -1 when focus left or entered the browser entirely.
type WindowFocusChanged struct {
	Type            MessageType `json:"type"`
	FocusedWindowID int         `json:"focused_window_id"`
	BlurredWindowID int         `json:"blurred_window_id"`
	TSMs            int64       `json:"ts_ms"`
}

// QueryTabs asks the extension for tabs matching a filter.
type QueryTabs struct {
	Type   MessageType    `json:"type"`
	ID     string         `json:"id"`
	Filter browser.Filter `json:"filter"`
}

// TabsResult answers a QueryTabs request.
type TabsResult struct {
	Type  MessageType   `json:"type"`
	ID    string        `json:"id"`
	Tabs  []browser.Tab `json:"tabs"`
	Error string        `json:"error,omitempty"`
}

// UpdateTab asks the extension to replace a tab's displayed content.
type UpdateTab struct {
	Type  MessageType `json:"type"`
	ID    string      `json:"id"`
	TabID int         `json:"tab_id"`
	URL   string      `json:"url"`
}

// UpdateResult answers an UpdateTab request.
type UpdateResult struct {
	Type  MessageType `json:"type"`
	ID    string      `json:"id"`
	Error string      `json:"error,omitempty"`
}

// ParseBridgeMessage decodes one inbound bridge message by its envelope type.
func ParseBridgeMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeHello:
		var msg Hello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTabActivated:
		var msg TabActivated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTabUpdated:
		var msg TabUpdated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTabRemoved:
		var msg TabRemoved
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTabReplaced:
		var msg TabReplaced
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeWindowFocusChanged:
		var msg WindowFocusChanged
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTabsResult:
		var msg TabsResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			return nil, errors.New("invalid tabs_result")
		}
		return msg, nil
	case TypeUpdateResult:
		var msg UpdateResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			return nil, errors.New("invalid update_result")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
