// Package tui provides the Bubble Tea grading interface.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"gradescan/internal/capture"
	"gradescan/internal/exam"
	"gradescan/internal/session"
)

type phase int

const (
	phaseBootstrap phase = iota
	phaseBootstrapFailed
	phaseReady
	phaseWorking
	phaseStageFailed
	phaseMissingReference
	phaseDone
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	cardStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#C89A3A")).
			Padding(1, 2)
)

type bootstrapMsg struct {
	err error
}

type stageMsg struct {
	stage exam.Stage
	err   error
}

// Model implements the Bubble Tea grading UI. It renders session snapshots
// and turns keypresses into capture-and-upload commands; all grading state
// lives in the sequencer.
type Model struct {
	seq *session.Sequencer
	run *capture.Run
	log zerolog.Logger

	spinner spinner.Model
	width   int
	height  int

	phase   phase
	errText string
}

// NewModel constructs the grading TUI model.
func NewModel(seq *session.Sequencer, run *capture.Run, log zerolog.Logger) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = currentStyle
	return &Model{
		seq:     seq,
		run:     run,
		log:     log,
		spinner: sp,
		phase:   phaseBootstrap,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.bootstrapCmd())
}

func (m *Model) bootstrapCmd() tea.Cmd {
	return func() tea.Msg {
		return bootstrapMsg{err: m.seq.Initialize(context.Background())}
	}
}

func (m *Model) retryBootstrapCmd() tea.Cmd {
	return func() tea.Msg {
		return bootstrapMsg{err: m.seq.Retry(context.Background())}
	}
}

func (m *Model) stageCmd(stage exam.Stage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		path, err := m.run.Capture(ctx, stage)
		if err != nil {
			return stageMsg{stage: stage, err: err}
		}
		return stageMsg{stage: stage, err: m.seq.SubmitCapture(ctx, stage, path)}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case bootstrapMsg:
		return m.onBootstrap(msg)

	case stageMsg:
		return m.onStage(msg)

	case tea.KeyMsg:
		return m.onKey(msg)

	default:
		return m, nil
	}
}

func (m *Model) onBootstrap(msg bootstrapMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.phase = phaseBootstrapFailed
		m.errText = msg.err.Error()
		return m, nil
	}
	m.phase = phaseReady
	m.errText = ""
	return m, nil
}

func (m *Model) onStage(msg stageMsg) (tea.Model, tea.Cmd) {
	snap := m.seq.Snapshot()
	if msg.err != nil {
		if snap.NeedsReference {
			m.phase = phaseMissingReference
		} else {
			m.phase = phaseStageFailed
		}
		m.errText = msg.err.Error()
		return m, nil
	}
	m.errText = ""
	if snap.Step == exam.StepFinished {
		m.phase = phaseDone
		return m, nil
	}
	m.phase = phaseReady
	return m, nil
}

func (m *Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.seq.Close()
		return m, tea.Quit
	}
	key := msg.String()
	if key == "q" && m.phase != phaseWorking {
		m.seq.Close()
		return m, tea.Quit
	}

	switch m.phase {
	case phaseReady:
		if msg.Type == tea.KeyEnter || key == " " {
			info, ok := exam.StageForStep(m.seq.Snapshot().Step)
			if !ok {
				return m, nil
			}
			m.phase = phaseWorking
			return m, tea.Batch(m.spinner.Tick, m.stageCmd(info.Stage))
		}

	case phaseStageFailed, phaseMissingReference:
		if msg.Type == tea.KeyEnter || key == "r" {
			info, ok := exam.StageForStep(m.seq.Snapshot().Step)
			if !ok {
				return m, nil
			}
			m.phase = phaseWorking
			m.errText = ""
			return m, tea.Batch(m.spinner.Tick, m.stageCmd(info.Stage))
		}

	case phaseBootstrapFailed:
		snap := m.seq.Snapshot()
		if (msg.Type == tea.KeyEnter || key == "r") && snap.RetryCount < session.MaxBootstrapRetries {
			m.phase = phaseBootstrap
			m.errText = ""
			return m, tea.Batch(m.spinner.Tick, m.retryBootstrapCmd())
		}
		if key == "n" {
			m.seq.Reset()
			m.phase = phaseBootstrap
			m.errText = ""
			return m, tea.Batch(m.spinner.Tick, m.bootstrapCmd())
		}

	case phaseDone:
		if key == "n" {
			m.seq.Reset()
			m.phase = phaseBootstrap
			m.errText = ""
			return m, tea.Batch(m.spinner.Tick, m.bootstrapCmd())
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("gradescan"))
	b.WriteString("\n\n")
	b.WriteString(m.renderProgress())
	b.WriteString("\n")
	b.WriteString(m.renderBody())
	b.WriteString("\n\n")
	b.WriteString(footerStyle.Render(m.footerHint()))
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, b.String())
	}
	return b.String()
}

func (m *Model) renderProgress() string {
	snap := m.seq.Snapshot()
	var b strings.Builder
	for _, stage := range exam.StageOrder {
		info, _ := exam.Info(stage)
		label := stage.Label()
		value := m.stageValue(snap, stage)
		switch {
		case value != "":
			b.WriteString(doneStyle.Render(fmt.Sprintf("  ✓ %-12s %s", label, value)))
		case info.Awaiting == snap.Step:
			b.WriteString(currentStyle.Render(fmt.Sprintf("  › %-12s", label)))
		default:
			b.WriteString(pendingStyle.Render(fmt.Sprintf("    %-12s", label)))
		}
		b.WriteRune('\n')
	}
	return b.String()
}

func (m *Model) stageValue(snap session.Snapshot, stage exam.Stage) string {
	switch stage {
	case exam.StageExamCode:
		return snap.Progress.ExamCode
	case exam.StageStudentID:
		return snap.Progress.StudentID
	case exam.StagePart1:
		if snap.Progress.ScoreP1 != nil {
			return fmt.Sprintf("%.2f", *snap.Progress.ScoreP1)
		}
	case exam.StagePart2:
		if snap.Progress.ScoreP2 != nil {
			return fmt.Sprintf("%.2f", *snap.Progress.ScoreP2)
		}
	case exam.StagePart3:
		if snap.Progress.ScoreP3 != nil {
			return fmt.Sprintf("%.2f", *snap.Progress.ScoreP3)
		}
	}
	return ""
}

func (m *Model) renderBody() string {
	wrapWidth := m.width - 8
	if wrapWidth < 20 {
		wrapWidth = 60
	}
	switch m.phase {
	case phaseBootstrap:
		return m.spinner.View() + " starting grading session"
	case phaseBootstrapFailed:
		snap := m.seq.Snapshot()
		text := errorStyle.Render(wrapText(m.errText, wrapWidth))
		if snap.RetryCount >= session.MaxBootstrapRetries {
			return text + "\n" + pendingStyle.Render(
				fmt.Sprintf("could not start a session after %d attempts", snap.RetryCount))
		}
		return text + "\n" + pendingStyle.Render(
			fmt.Sprintf("attempt %d of %d", snap.RetryCount, session.MaxBootstrapRetries))
	case phaseWorking:
		return m.spinner.View() + " uploading capture"
	case phaseStageFailed:
		return errorStyle.Render(wrapText(m.errText, wrapWidth))
	case phaseMissingReference:
		return errorStyle.Render(wrapText(m.errText, wrapWidth))
	case phaseDone:
		return m.renderResult()
	default:
		info, ok := exam.StageForStep(m.seq.Snapshot().Step)
		if !ok {
			return ""
		}
		return fmt.Sprintf("position the %s field in front of the camera", info.Stage.Label())
	}
}

func (m *Model) renderResult() string {
	snap := m.seq.Snapshot()
	var lines []string
	if v, ok := snap.Result.StringField("student_id"); ok {
		lines = append(lines, fmt.Sprintf("Student   %s", v))
	}
	if v, ok := snap.Result.StringField("exam_code"); ok {
		lines = append(lines, fmt.Sprintf("Exam      %s", v))
	}
	for i, score := range []*float64{snap.Progress.ScoreP1, snap.Progress.ScoreP2, snap.Progress.ScoreP3} {
		if score != nil {
			lines = append(lines, fmt.Sprintf("Part %d    %.2f", i+1, *score))
		}
	}
	if total, ok := snap.Result.TotalScore(); ok {
		lines = append(lines, titleStyle.Render(fmt.Sprintf("Total     %.2f", total)))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func (m *Model) footerHint() string {
	switch m.phase {
	case phaseReady:
		return "enter capture · q quit"
	case phaseStageFailed:
		return "enter retry · q quit"
	case phaseMissingReference:
		return "register answers with `gradescan answers`, then enter to retry · q quit"
	case phaseBootstrapFailed:
		if m.seq.Snapshot().RetryCount >= session.MaxBootstrapRetries {
			return "n start over · q quit"
		}
		return "enter retry · n start over · q quit"
	case phaseDone:
		return "n next sheet · q quit"
	default:
		return "q quit"
	}
}
