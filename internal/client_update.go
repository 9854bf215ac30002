package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		if typedMessage.Width > 20 {
			model.editor.SetWidth(typedMessage.Width - 6)
		}
		if typedMessage.Height > 20 {
			model.editor.SetHeight(typedMessage.Height - 16)
		}
		return model, nil

	case tea.KeyMsg:
		// Any mode should respect Ctrl+C so the user can bail out quickly.
		if typedMessage.Type == tea.KeyCtrlC {
			model.shutdown()
			return model, tea.Quit
		}
		switch model.mode {
		case modeMenu:
			return model.updateMenu(typedMessage)
		case modeNamePrompt:
			return model.updateNamePrompt(typedMessage)
		case modeJoinPrompt:
			return model.updateJoinPrompt(typedMessage)
		case modeEditor:
			return model.updateEditor(typedMessage)
		}

	case connectedMsg:
		if model.mode != modeEditor {
			typedMessage.session.close("not in a room")
			return model, nil
		}
		model.session.current.Store(typedMessage.session)
		model.isConnected = true
		model.connectionError = nil
		model.retry.Reset()
		if err := typedMessage.session.send(JoinEvent{RoomID: model.roomKey, DisplayName: model.username}); err != nil {
			return model, func() tea.Msg { return disconnectedMsg{session: typedMessage.session, err: err} }
		}
		return model, readOnceCmd(typedMessage.session)

	case serverEventMsg:
		if model.session.current.Load() != typedMessage.session {
			return model, nil
		}
		model.applyServerEvent(typedMessage.event)
		return model, readOnceCmd(typedMessage.session)

	case disconnectedMsg:
		if model.session.current.Load() != typedMessage.session {
			return model, nil
		}
		model.session.current.Store(nil)
		_ = typedMessage.session.conn.Close()
		model.isConnected = false
		model.connectionError = typedMessage.err
		if model.mode == modeEditor {
			model.addNotice("Connection lost, reconnecting…")
			return model, model.scheduleReconnect()
		}
		return model, nil

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if model.mode == modeEditor {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeEditor && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case tickMsg:
		// re-render so "joined … ago" stays current
		return model, tickCmd()

	case existsMsg:
		if typedMessage.err != nil {
			model.addNotice(fmt.Sprintf("Error checking room: %v", typedMessage.err))
			return model, nil
		}
		if !typedMessage.exists {
			model.addNotice("Room not found. Try again or create a room.")
			return model, nil
		}
		model.roomKey = NormalizeRoomID(typedMessage.key)
		model.textInput.SetValue("")
		model.enterEditor()
		return model, tea.Batch(textarea.Blink, model.connectCmd())
	}
	return model, nil
}

func (model *TUIModel) updateMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "1", "j", "J":
		model.pendingAction = actionJoin
		return model, model.promptName()
	case "2", "c", "C":
		model.pendingAction = actionCreate
		return model, model.promptName()
	case "q", "Q", "3", "esc":
		// The menu screens all read the same keys, so "3" acts as an easy quit.
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) promptName() tea.Cmd {
	model.mode = modeNamePrompt
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "Enter display name…"
	model.textInput.Prompt = "name> "
	return model.textInput.Focus()
}

func (model *TUIModel) backToMenu() {
	model.pendingAction = actionNone
	model.mode = modeMenu
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Placeholder = ""
	model.textInput.Prompt = ""
}

func (model *TUIModel) updateNamePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			model.addNotice("Display name cannot be empty.")
			return model, nil
		}
		model.username = trimmed
		model.textInput.SetValue("")
		nextAction := model.pendingAction
		model.pendingAction = actionNone
		switch nextAction {
		case actionJoin:
			model.mode = modeJoinPrompt
			model.textInput.Placeholder = "Enter room key…"
			model.textInput.Prompt = "room> "
			return model, model.textInput.Focus()
		case actionCreate:
			model.roomKey = generateSecureKey(12)
			model.enterEditor()
			model.addNotice(inviteText(model.serverJoinURL, model.roomKey))
			return model, tea.Batch(textarea.Blink, model.connectCmd())
		}
		model.backToMenu()
		return model, nil
	case tea.KeyEsc:
		model.backToMenu()
		return model, nil
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateJoinPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.backToMenu()
		return model, nil
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		// Before we dial the websocket, hit the lightweight HTTP probe.
		return model, model.existsCmd(trimmed)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateEditor(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyEsc {
		model.leaveRoom()
		model.backToMenu()
		return model, nil
	}
	before := model.editor.Value()
	var cmd tea.Cmd
	model.editor, cmd = model.editor.Update(key)
	if after := model.editor.Value(); after != before {
		model.agent.LocalEdit(after)
	}
	if model.isConnected {
		model.agent.MoveCursor(model.cursorOffset())
	}
	return model, cmd
}

// applyServerEvent folds one frame into the editor state. A remote docUpdate
// is written straight into the editor and never goes through LocalEdit.
func (model *TUIModel) applyServerEvent(event ServerEvent) {
	if event.RoomID != "" && event.RoomID != model.roomKey {
		return
	}
	switch event.Event {
	case EventDocUpdate:
		if event.IsSnapshot() {
			model.members = event.Members
			// our own member entry is the newest one in our join snapshot
			if n := len(event.Members); n > 0 {
				model.selfID = event.Members[n-1].ConnectionID
				model.agent.SetSelfID(model.selfID)
			}
		}
		if model.agent.ReceiveDocUpdate(event.Content, event.Version, event.OriginConnectionID) == ReconcileRemote {
			model.editor.SetValue(event.Content)
		}
	case EventJoined:
		model.members = event.Members
		model.addNotice(fmt.Sprintf("%s joined", event.DisplayName))
	case EventLeft:
		model.members = event.Members
		delete(model.cursors, event.ConnectionID)
		delete(model.typing, event.ConnectionID)
		model.addNotice(fmt.Sprintf("%s left", event.DisplayName))
	case EventCursorUpdate:
		model.cursors[event.ConnectionID] = event.Position
	case EventTypingStatus:
		if event.ConnectionID == model.selfID {
			return
		}
		if event.IsTyping {
			model.typing[event.ConnectionID] = true
		} else {
			delete(model.typing, event.ConnectionID)
		}
	case EventError:
		model.addNotice(fmt.Sprintf("Server rejected a message (%s): %s", event.Code, event.Message))
	}
}

// leaveRoom flushes any pending edit, announces the leave and hangs up.
func (model *TUIModel) leaveRoom() {
	if model.agent != nil {
		_ = model.agent.Flush()
		model.agent.Close()
	}
	if session := model.session.current.Swap(nil); session != nil {
		_ = session.send(LeaveEvent{RoomID: model.roomKey})
		session.close("left room")
	}
	model.isConnected = false
	model.roomKey = ""
}

func (model *TUIModel) shutdown() {
	if model.mode == modeEditor {
		model.leaveRoom()
	}
}
