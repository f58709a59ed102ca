package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"secure_chat/internal/model"
	"secure_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const helpText = "commands: /connect <user>  /add <user>  /accept <user>  /clear <id>  /quit"

type (
	// TUI is the terminal View: contacts on the left, the active chat on the right.
	TUI struct {
		app      *tview.Application
		chatbox  *tview.TextView
		contacts *tview.List
		input    *tview.InputField

		orch *Orchestrator

		mu       sync.Mutex
		roster   []model.Contact
		requests map[string]string // username -> requester id
	}

	command struct {
		name string
		arg  string
	}
)

func NewTUI() *TUI {
	u := &TUI{
		app:      tview.NewApplication(),
		requests: make(map[string]string),
	}

	u.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	u.chatbox.SetBorder(true).SetTitle(" No active chat ")

	u.contacts = tview.NewList().ShowSecondaryText(false)
	u.contacts.SetBorder(true).SetTitle(" Friends ")

	u.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	u.input.SetBorder(true).SetTitle(" Message ")
	u.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := u.input.GetText()
		u.input.SetText("")
		if strings.TrimSpace(text) == "" {
			return
		}
		go u.handleInput(text)
	})

	return u
}

func (u *TUI) Bind(o *Orchestrator) {
	u.orch = o
}

// Run blocks until the UI exits.
func (u *TUI) Run() error {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(u.chatbox, 0, 1, false).
		AddItem(u.input, 3, 0, true)
	layout := tview.NewFlex().
		AddItem(u.contacts, 24, 0, false).
		AddItem(right, 0, 1, true)

	u.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyTab {
			if u.input.HasFocus() {
				u.app.SetFocus(u.contacts)
			} else {
				u.app.SetFocus(u.input)
			}
			return nil
		}
		return ev
	})

	u.write("[gray]%s[-]", helpText)
	return u.app.SetRoot(layout, true).SetFocus(u.input).Run()
}

func (u *TUI) Stop() {
	u.app.Stop()
}

func (u *TUI) handleInput(text string) {
	cmd, ok := parseCommand(text)
	if !ok {
		if err := u.orch.Send(text); err != nil {
			u.ShowError(err.Error())
		}
		return
	}

	var err error
	switch cmd.name {
	case "connect", "c":
		err = u.orch.Connect(cmd.arg)
	case "add":
		err = u.orch.AddFriend(cmd.arg)
	case "accept":
		u.mu.Lock()
		id, known := u.requests[cmd.arg]
		u.mu.Unlock()
		if !known {
			id = cmd.arg
		}
		err = u.orch.Accept(id)
	case "clear":
		err = u.orch.ClearNotification(cmd.arg)
	case "quit", "q":
		u.Stop()
	case "help":
		u.ShowSystem(helpText)
	default:
		err = fmt.Errorf("unknown command /%s", cmd.name)
	}
	if err != nil {
		u.ShowError(err.Error())
	}
}

// parseCommand splits "/name arg". Plain text is not a command.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

func (u *TUI) ShowMessage(from, text string, at time.Time, mine bool) {
	color := "green"
	if mine {
		color, from = "yellow", "You"
	}
	u.write("[gray]%s[-] [%s]%s:[-] %s", at.Local().Format("15:04"), color, tview.Escape(from), tview.Escape(text))
}

func (u *TUI) ShowSystem(text string) {
	u.write("[blue]* %s[-]", tview.Escape(text))
}

func (u *TUI) ShowError(text string) {
	u.write("[red]! %s[-]", tview.Escape(text))
}

func (u *TUI) SetPeer(username string) {
	u.app.QueueUpdateDraw(func() {
		u.chatbox.Clear()
		u.chatbox.SetTitle(fmt.Sprintf(" Chat with %s ", username))
	})
}

func (u *TUI) UpdateContacts(contacts []model.Contact) {
	u.mu.Lock()
	u.roster = append([]model.Contact(nil), contacts...)
	u.mu.Unlock()
	u.redrawContacts()
}

func (u *TUI) UpdatePresence(userID string, online bool) {
	u.mu.Lock()
	changed := false
	for i := range u.roster {
		if u.roster[i].ID == userID {
			u.roster[i].Online = online
			changed = true
		}
	}
	u.mu.Unlock()
	if changed {
		u.redrawContacts()
	}
}

func (u *TUI) ShowFriendRequest(req model.FriendRequest) {
	u.mu.Lock()
	u.requests[req.FromUser] = req.FromID
	u.mu.Unlock()
	u.ShowSystem(fmt.Sprintf("friend request from %s (/accept %s)", req.FromUser, req.FromUser))
}

func (u *TUI) ShowNotification(n model.Notification) {
	u.ShowSystem(fmt.Sprintf("%s (/clear %s)", n.Content, n.ID))
}

func (u *TUI) redrawContacts() {
	u.mu.Lock()
	roster := append([]model.Contact(nil), u.roster...)
	u.mu.Unlock()

	u.app.QueueUpdateDraw(func() {
		u.contacts.Clear()
		for _, c := range roster {
			name := c.Username
			mark := "[gray]o[-]"
			if c.Online {
				mark = "[green]●[-]"
			}
			u.contacts.AddItem(mark+" "+tview.Escape(name), "", 0, func() {
				if err := u.orch.Connect(name); err != nil {
					log.Error("connect failed", zap.Error(err))
				}
				u.app.SetFocus(u.input)
			})
		}
	})
}

func (u *TUI) write(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	u.app.QueueUpdateDraw(func() {
		fmt.Fprintln(u.chatbox, line)
		u.chatbox.ScrollToEnd()
	})
}
