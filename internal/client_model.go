package internal

import (
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	editor          textarea.Model
	notices         []notice
	serverJoinURL   string
	roomKey         string
	username        string
	session         *liveSession
	agent           *SyncAgent
	agentOptions    AgentOptions
	selfID          string
	members         []MemberView
	cursors         map[string]int
	typing          map[string]bool
	isConnected     bool
	connectionError error
	retry           *backoff.ExponentialBackOff
	mode            appMode
	pendingAction   actionType
	width           int
}

type notice struct {
	body string
	at   time.Time
}

type appMode int

const (
	modeMenu appMode = iota
	modeNamePrompt
	modeJoinPrompt
	modeEditor
)

type actionType int

const (
	actionNone actionType = iota
	actionJoin
	actionCreate
)

const maxNotices = 6

func NewTUIModel(serverJoinURL, roomKey, username string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0

	editor := textarea.New()
	editor.Placeholder = "Start typing, everyone in the room sees it…"
	editor.ShowLineNumbers = true
	editor.CharLimit = 0
	editor.SetWidth(80)
	editor.SetHeight(16)

	if username == "" {
		username = defaultUsername()
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 15 * time.Second
	// keep retrying for as long as the editor is open
	retry.MaxElapsedTime = 0

	model := &TUIModel{
		textInput:     input,
		editor:        editor,
		serverJoinURL: serverJoinURL,
		roomKey:       NormalizeRoomID(roomKey),
		username:      username,
		session:       &liveSession{},
		cursors:       make(map[string]int),
		typing:        make(map[string]bool),
		retry:         retry,
	}
	if model.roomKey == "" {
		model.mode = modeMenu
	} else {
		model.enterEditor()
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("COLLABROOM_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd()}
	if model.mode == modeEditor {
		cmds = append(cmds, textarea.Blink, model.connectCmd())
	}
	return tea.Batch(cmds...)
}

// enterEditor switches to the shared editor for model.roomKey with a fresh agent.
func (model *TUIModel) enterEditor() {
	if model.agent != nil {
		model.agent.Close()
	}
	model.agent = NewSyncAgent(model.roomKey, model.session, model.agentOptions)
	model.selfID = ""
	model.members = nil
	model.cursors = make(map[string]int)
	model.typing = make(map[string]bool)
	model.editor.SetValue("")
	model.editor.Focus()
	model.textInput.Blur()
	model.mode = modeEditor
}

func (model *TUIModel) addNotice(body string) {
	model.notices = append(model.notices, notice{body: body, at: time.Now()})
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

func (model *TUIModel) memberName(connectionID string) string {
	for _, member := range model.members {
		if member.ConnectionID == connectionID {
			return member.DisplayName
		}
	}
	return connectionID
}

// cursorOffset converts the editor's line/column into a rune offset in the document.
func (model *TUIModel) cursorOffset() int {
	value := []rune(model.editor.Value())
	line := model.editor.Line()
	info := model.editor.LineInfo()
	column := info.StartColumn + info.ColumnOffset

	offset := 0
	for current := 0; current < line && offset < len(value); offset++ {
		if value[offset] == '\n' {
			current++
		}
	}
	offset += column
	if offset > len(value) {
		offset = len(value)
	}
	return offset
}
