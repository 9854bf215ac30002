package internal

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("websocket not connected")

// clientSession is one websocket dial; the write mutex serializes the
// agent's timer goroutines with the TUI.
type clientSession struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
}

func (session *clientSession) send(event InboundEvent) error {
	encoded, err := EncodeInbound(event)
	if err != nil {
		return err
	}
	session.writeMutex.Lock()
	defer session.writeMutex.Unlock()
	_ = session.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return session.conn.WriteMessage(websocket.TextMessage, encoded)
}

func (session *clientSession) close(reason string) {
	session.writeMutex.Lock()
	_ = session.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	session.writeMutex.Unlock()
	_ = session.conn.Close()
}

// liveSession points at the current dial, so the agent keeps one emitter across reconnects.
type liveSession struct {
	current atomic.Pointer[clientSession]
}

func (live *liveSession) Emit(event InboundEvent) error {
	session := live.current.Load()
	if session == nil {
		return errNotConnected
	}
	return session.send(event)
}

// bubbletea messages for the asynchronous side of the client
type (
	connectedMsg    struct{ session *clientSession }
	serverEventMsg  struct {
		session *clientSession
		event   ServerEvent
	}
	disconnectedMsg struct {
		session *clientSession
		err     error
	}
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	tickMsg          time.Time
	existsMsg        struct {
		key    string
		exists bool
		err    error
	}
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	delay := model.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = model.retry.MaxInterval
	}
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	serverJoinURL := model.serverJoinURL
	return func() tea.Msg {
		joinURL, err := buildJoinURL(serverJoinURL)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.Dial(joinURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{session: &clientSession{conn: conn}}
	}
}

// HTTP GET against the room endpoint so we can warn the user before joining
func (model *TUIModel) existsCmd(key string) tea.Cmd {
	serverJoinURL := model.serverJoinURL
	return func() tea.Msg {
		urlStr, err := buildRoomURL(serverJoinURL, key)
		if err != nil {
			return existsMsg{key: key, exists: false, err: err}
		}
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(urlStr)
		if err != nil {
			return existsMsg{key: key, exists: false, err: err}
		}
		_ = resp.Body.Close()
		return existsMsg{key: key, exists: resp.StatusCode == http.StatusOK, err: nil}
	}
}

// readOnceCmd waits for one server frame on session
func readOnceCmd(session *clientSession) tea.Cmd {
	return func() tea.Msg {
		for {
			messageType, payload, err := session.conn.ReadMessage()
			if err != nil {
				return disconnectedMsg{session: session, err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var event ServerEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				continue
			}
			return serverEventMsg{session: session, event: event}
		}
	}
}

// RunClient is the entry point for the terminal editor. Log output would
// tear the alt screen, so it goes to logFile when set and is discarded otherwise.
func RunClient(serverJoinURL, roomKey, username, logFile string) error {
	if logFile != "" {
		file, err := tea.LogToFile(logFile, "collabroom")
		if err != nil {
			return err
		}
		defer file.Close()
	} else {
		log.SetOutput(io.Discard)
	}
	model := NewTUIModel(serverJoinURL, roomKey, username)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	model.shutdown()
	return err
}

func buildJoinURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	return parsed.String(), nil
}

// room lookup for a key, e.g. http://localhost:8080/api/rooms/ROOM_ID
func buildRoomURL(wsBase string, roomKey string) (string, error) {
	parsed, err := url.Parse(wsBase)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	roomID := NormalizeRoomID(roomKey)
	parsed.Path = "/api/rooms/" + roomID
	parsed.RawPath = "/api/rooms/" + url.PathEscape(roomID)
	parsed.RawQuery = ""
	return parsed.String(), nil
}

// make shareable room code using base32
func generateSecureKey(length int) string {
	if length < 8 {
		length = 8
	}
	// base32 encoding gets 1.6 bytes per char
	byteLen := (length * 5) / 8
	if (length*5)%8 != 0 {
		byteLen++
	}
	b := make([]byte, byteLen)
	_, _ = rand.Read(b)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	if len(enc) >= length {
		enc = enc[:length]
	}
	// room ids are case-insensitive, lowercase reads better in a URL
	return strings.ToLower(enc)
}

func inviteText(serverJoinURL, roomKey string) string {
	var sb strings.Builder
	sb.WriteString("Invite others with: collabroom client -server-url ")
	sb.WriteString(serverJoinURL)
	sb.WriteString(" ")
	sb.WriteString(roomKey)
	return sb.String()
}
