package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/iamgatling/mxxc/internal/utils"
)

// TransferMode is send or receive.
type TransferMode int

const (
	ModeSend TransferMode = iota
	ModeReceive
)

// TransferUI shows live progress of one file.
type TransferUI struct {
	program *tea.Program
	model   *liveModel
	updates chan tea.Msg
	done    chan struct{}

	cancel     chan struct{}
	cancelOnce sync.Once
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type progressMsg struct {
	current int64
	speed   float64
}

type stateMsg string

type finishedMsg struct {
	err error
}

type tickMsg time.Time

type liveModel struct {
	mode    TransferMode
	name    string
	size    int64
	state   string
	current int64
	speed   float64

	bar     progress.Model
	spinner spinner.Model
	updates chan tea.Msg

	finished bool
	err      error
	quitting bool
	onQuit   func()
}

// NewTransferUI creates the view for one file of the given size.
func NewTransferUI(mode TransferMode, name string, size int64) *TransferUI {
	ui := &TransferUI{
		updates: make(chan tea.Msg, 100),
		done:    make(chan struct{}),
		cancel:  make(chan struct{}),
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ui.model = &liveModel{
		mode:    mode,
		name:    name,
		size:    size,
		state:   "Connecting...",
		bar:     progress.New(progress.WithGradient(ProgressStart, ProgressEnd), progress.WithWidth(30), progress.WithoutPercentage()),
		spinner: s,
		updates: ui.updates,
		onQuit:  func() { ui.cancelOnce.Do(func() { close(ui.cancel) }) },
	}
	return ui
}

// Start runs the program in the background, drawing to out.
func (ui *TransferUI) Start(out io.Writer) {
	ui.program = tea.NewProgram(ui.model, tea.WithOutput(out))
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			PrintError(fmt.Sprintf("UI error: %v", err))
		}
	}()
}

// Cancelled is closed when the user quits the view.
func (ui *TransferUI) Cancelled() <-chan struct{} {
	return ui.cancel
}

// UpdateProgress may drop updates when the view is behind; the next one
// carries the newer total anyway.
func (ui *TransferUI) UpdateProgress(current int64, speed float64) {
	select {
	case ui.updates <- progressMsg{current: current, speed: speed}:
	default:
	}
}

func (ui *TransferUI) SetState(state string) {
	ui.send(stateMsg(state))
}

// Finish shows the final state. err is nil on success.
func (ui *TransferUI) Finish(err error) {
	ui.send(finishedMsg{err: err})
}

// send delivers msg unless the program has already ended.
func (ui *TransferUI) send(msg tea.Msg) {
	if ui.program == nil {
		return
	}
	select {
	case <-ui.done:
	default:
		ui.program.Send(msg)
	}
}

// Stop waits for the last frame to be drawn and ends the program.
func (ui *TransferUI) Stop() {
	ui.stopOnce.Do(func() {
		close(ui.done)
		if ui.program != nil {
			ui.program.Quit()
		}
		ui.wg.Wait()
	})
}

func (m *liveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *liveModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(30, msg.Width-50))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if !m.finished && !m.quitting {
			return m, tick()
		}

	case progressMsg:
		m.current, m.speed = msg.current, msg.speed
		m.state = "Transferring"
		return m, m.listen()

	case stateMsg:
		m.state = string(msg)

	case finishedMsg:
		m.finished = true
		m.err = msg.err
		if msg.err == nil {
			m.current = m.size
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *liveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	icon, verb := IconSend, "Sending"
	if m.mode == ModeReceive {
		icon, verb = IconReceive, "Receiving"
	}
	fmt.Fprintf(&b, "\n%s %s %s\n\n", icon, verb, TitleStyle.Render(truncate(m.name, 40)))

	switch {
	case m.finished && m.err != nil:
		fmt.Fprintf(&b, "%s\n", ErrorBoxStyle.Render(m.err.Error()))
		return b.String()
	case m.finished:
		fmt.Fprintf(&b, "%s %s\n", IconComplete, SuccessStyle.Render("Transfer complete"))
	default:
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.state)
	}

	percent := 1.0
	if m.size > 0 {
		percent = float64(m.current) / float64(m.size)
	}
	fmt.Fprintf(&b, "\n  %s %5.1f%%  %s / %s",
		m.bar.ViewAs(percent),
		percent*100,
		utils.FormatSize(m.current),
		utils.FormatSize(m.size),
	)

	if !m.finished && m.speed > 0 {
		fmt.Fprintf(&b, "  %s", MutedStyle.Render(IconSpeed+" "+utils.FormatSpeed(m.speed)))
		if remaining := m.size - m.current; remaining > 0 {
			eta := time.Duration(float64(remaining) / m.speed * float64(time.Second))
			fmt.Fprintf(&b, "  %s", MutedStyle.Render("ETA "+utils.FormatTimeDuration(eta)))
		}
	}
	b.WriteString("\n")

	if !m.finished {
		b.WriteString("\n" + MutedStyle.Render("Press q to cancel") + "\n")
	}
	return b.String()
}
