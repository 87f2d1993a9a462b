package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"gradescan/internal/capture"
	"gradescan/internal/exam"
	"gradescan/internal/reference"
)

type answersPhase int

const (
	answersPhaseCode answersPhase = iota
	answersPhaseReady
	answersPhaseWorking
	answersPhaseSubmitting
	answersPhaseFailed
	answersPhaseDone
)

type answersCaptureMsg struct {
	stage exam.Stage
	err   error
}

type answersSubmitMsg struct {
	err error
}

// AnswersModel implements the reference-answer registration UI: one typed
// exam code followed by three answer-sheet captures.
type AnswersModel struct {
	reg *reference.Registrar
	run *capture.Run
	log zerolog.Logger

	input   textinput.Model
	spinner spinner.Model
	width   int
	height  int

	phase   answersPhase
	partIdx int
	errText string
}

// NewAnswersModel constructs the registration TUI model.
func NewAnswersModel(reg *reference.Registrar, run *capture.Run, log zerolog.Logger) *AnswersModel {
	input := textinput.New()
	input.Placeholder = "DE001"
	input.CharLimit = 32
	input.Width = 24
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = currentStyle

	return &AnswersModel{
		reg:     reg,
		run:     run,
		log:     log,
		input:   input,
		spinner: sp,
		phase:   answersPhaseCode,
	}
}

// Init implements tea.Model.
func (m *AnswersModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *AnswersModel) captureCmd(stage exam.Stage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		path, err := m.run.Capture(ctx, stage)
		if err != nil {
			return answersCaptureMsg{stage: stage, err: err}
		}
		return answersCaptureMsg{stage: stage, err: m.reg.AddCapture(stage, path)}
	}
}

func (m *AnswersModel) submitCmd() tea.Cmd {
	return func() tea.Msg {
		return answersSubmitMsg{err: m.reg.Submit(context.Background())}
	}
}

// Update implements tea.Model.
func (m *AnswersModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case answersCaptureMsg:
		if msg.err != nil {
			m.phase = answersPhaseFailed
			m.errText = msg.err.Error()
			return m, nil
		}
		m.errText = ""
		m.partIdx++
		if m.partIdx >= len(reference.PartStages) {
			m.phase = answersPhaseSubmitting
			return m, tea.Batch(m.spinner.Tick, m.submitCmd())
		}
		m.phase = answersPhaseReady
		return m, nil

	case answersSubmitMsg:
		if msg.err != nil {
			m.phase = answersPhaseFailed
			m.errText = msg.err.Error()
			return m, nil
		}
		m.phase = answersPhaseDone
		m.errText = ""
		return m, nil

	case tea.KeyMsg:
		return m.onKey(msg)

	default:
		return m, nil
	}
}

func (m *AnswersModel) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.phase {
	case answersPhaseCode:
		if msg.Type == tea.KeyEnter {
			if err := m.reg.SetExamCode(m.input.Value()); err != nil {
				m.errText = err.Error()
				return m, nil
			}
			m.errText = ""
			m.phase = answersPhaseReady
			m.partIdx = 0
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case answersPhaseReady:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "enter", " ":
			m.phase = answersPhaseWorking
			return m, tea.Batch(m.spinner.Tick, m.captureCmd(reference.PartStages[m.partIdx]))
		}

	case answersPhaseFailed:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "enter", "r":
			m.errText = ""
			if m.partIdx >= len(reference.PartStages) {
				m.phase = answersPhaseSubmitting
				return m, tea.Batch(m.spinner.Tick, m.submitCmd())
			}
			m.phase = answersPhaseWorking
			return m, tea.Batch(m.spinner.Tick, m.captureCmd(reference.PartStages[m.partIdx]))
		}

	case answersPhaseDone:
		switch msg.String() {
		case "q", "enter":
			return m, tea.Quit
		case "n":
			m.input.Reset()
			m.input.Focus()
			m.phase = answersPhaseCode
			m.partIdx = 0
			return m, textinput.Blink
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *AnswersModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("gradescan · reference answers"))
	b.WriteString("\n\n")
	b.WriteString(m.renderBody())
	b.WriteString("\n\n")
	b.WriteString(footerStyle.Render(m.footerHint()))
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, b.String())
	}
	return b.String()
}

func (m *AnswersModel) renderBody() string {
	wrapWidth := m.width - 8
	if wrapWidth < 20 {
		wrapWidth = 60
	}
	switch m.phase {
	case answersPhaseCode:
		body := "exam code for this answer set\n\n" + m.input.View()
		if m.errText != "" {
			body += "\n" + errorStyle.Render(wrapText(m.errText, wrapWidth))
		}
		return body
	case answersPhaseReady:
		stage := reference.PartStages[m.partIdx]
		return fmt.Sprintf("%s\n\nposition the %s answer sheet in front of the camera",
			m.renderParts(), stage.Label())
	case answersPhaseWorking:
		return m.renderParts() + "\n\n" + m.spinner.View() + " capturing"
	case answersPhaseSubmitting:
		return m.renderParts() + "\n\n" + m.spinner.View() + " registering answer set"
	case answersPhaseFailed:
		return m.renderParts() + "\n\n" + errorStyle.Render(wrapText(m.errText, wrapWidth))
	case answersPhaseDone:
		return cardStyle.Render("answer set registered")
	default:
		return ""
	}
}

func (m *AnswersModel) renderParts() string {
	var b strings.Builder
	b.WriteString(doneStyle.Render("  ✓ exam code    " + m.reg.ExamCode()))
	b.WriteRune('\n')
	for i, stage := range reference.PartStages {
		label := stage.Label()
		switch {
		case i < m.partIdx:
			b.WriteString(doneStyle.Render(fmt.Sprintf("  ✓ %-12s captured", label)))
		case i == m.partIdx && m.phase != answersPhaseDone:
			b.WriteString(currentStyle.Render(fmt.Sprintf("  › %-12s", label)))
		default:
			b.WriteString(pendingStyle.Render(fmt.Sprintf("    %-12s", label)))
		}
		if i < len(reference.PartStages)-1 {
			b.WriteRune('\n')
		}
	}
	return b.String()
}

func (m *AnswersModel) footerHint() string {
	switch m.phase {
	case answersPhaseCode:
		return "enter confirm · ctrl+c quit"
	case answersPhaseReady:
		return "enter capture · q quit"
	case answersPhaseFailed:
		return "enter retry · q quit"
	case answersPhaseDone:
		return "n another set · q quit"
	default:
		return "ctrl+c quit"
	}
}
