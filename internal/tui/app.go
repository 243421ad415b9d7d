// internal/tui/app.go
//
// Interactive terminal front end for the requirements pipeline.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/completeness"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/elicitor"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/validator"
	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/llm"
	"github.com/gazar78gazar/reqMas-MVP/internal/logbook"
	"github.com/gazar78gazar/reqMas-MVP/internal/orchestrator"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// appScreen represents which "screen" we're on
type appScreen int

const (
	screenChat     appScreen = iota // Conversation with the pipeline
	screenProgress                  // Elicitation coverage and beliefs
	screenProducts                  // Catalog browser with fuzzy filter
	screenSummary                   // Validation verdict and recommendations
	screenCount
)

var screenNames = [...]string{"Chat", "Progress", "Products", "Summary"}

var (
	titleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	accentStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	activeTabStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true).Underline(true)
	inactiveTabStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	hintStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Italic(true)
	userStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	systemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	okStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle         = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#444444")).
				Padding(0, 1)
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
	roleError     = "error"
)

// chatLine is one rendered transcript entry.
type chatLine struct {
	role string
	text string
}

// pipelineDoneMsg carries one finished pipeline turn back to Update.
type pipelineDoneMsg struct {
	result orchestrator.ProcessResult
	err    error
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithSessionID pins the session the app works in. Without it every
// run opens a fresh session under a generated id.
func WithSessionID(id string) AppOption {
	return func(a *App) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			a.sessionID = trimmed
		}
	}
}

// WithAssist attaches the model-backed helpers to every agent the app
// drives.
func WithAssist(assist *llm.Assist) AppOption {
	return func(a *App) {
		a.assist = assist
	}
}

// App is the top-level bubbletea model.
type App struct {
	config   *config.Config
	logbook  *logbook.Logbook
	catalog  *catalog.Catalog
	deps     *agent.Context
	pipeline *orchestrator.Pipeline
	state    *session.State

	elicitor *elicitor.Agent
	scorer   *completeness.Agent
	checker  *validator.Agent

	assist    *llm.Assist
	sessionID string

	screen    appScreen
	width     int
	height    int
	ready     bool
	busy      bool
	statusMsg string

	transcript []chatLine
	input      textinput.Model
	viewport   viewport.Model
	spinner    spinner.Model
	products   list.Model

	// pending holds an unanswered A/B question; prompt holds the open
	// elicitation question the next input answers.
	pending *orchestrator.Question
	prompt  string

	progress    elicitor.Progress
	score       float64
	report      *validator.Report
	recommended []catalog.Product
	pstatus     orchestrator.Status
}

// NewApp wires the pipeline, the agents, and the screen components for
// one session under projectDir.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logb, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		logb = nil
	}
	cat, err := catalog.Load(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	app := &App{
		config:    cfg,
		logbook:   logb,
		catalog:   cat,
		sessionID: uuid.NewString(),
		screen:    screenChat,
		elicitor:  elicitor.New(),
		scorer:    completeness.New(),
		checker:   validator.New(),
	}
	for _, opt := range opts {
		opt(app)
	}

	deps := agent.NewContext(cfg, cat, logb).
		WithLedger(constraint.NewLedger(app.sessionID, cat.MutexConstraints)).
		WithBeliefs(belief.NewNetwork(cat))
	if app.assist != nil {
		deps = deps.WithAssist(app.assist)
	}
	if decisions, err := decisionlog.New(app.sessionID, cfg.SessionLogsDir(app.sessionID)); err == nil {
		deps = deps.WithDecisions(decisions)
	} else {
		app.logWarn("decision log unavailable: %v", err)
	}
	app.deps = deps

	pipe, err := orchestrator.NewPipeline(deps)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	app.pipeline = pipe
	app.state = session.NewState(app.sessionID)

	input := textinput.New()
	input.Placeholder = "Describe your requirements"
	input.Prompt = "> "
	input.CharLimit = 512
	input.Focus()
	app.input = input

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle
	app.spinner = sp

	app.viewport = viewport.New(0, 0)
	app.products = buildProductList(cat)

	app.greet()
	app.logInfo("tui: session %s started", app.sessionID)
	return app, nil
}

// Init starts the cursor blink.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update is the central message handler.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		a.ready = true
		a.applySize()
		return a, nil
	case spinner.TickMsg:
		if !a.busy {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(m)
		return a, cmd
	case pipelineDoneMsg:
		return a, a.handlePipelineDone(m)
	case tea.KeyMsg:
		return a.handleKey(m)
	default:
		return a.delegate(msg)
	}
}

// handleKey applies the global bindings, then hands the key to the
// active screen. The chat input swallows plain letters, so q only
// quits away from it.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	filtering := a.screen == screenProducts && a.products.FilterState() == list.Filtering

	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "q":
		if a.screen != screenChat && !filtering {
			return a, tea.Quit
		}
	case "tab":
		if !filtering {
			a.setScreen((a.screen + 1) % screenCount)
			return a, nil
		}
	case "esc":
		if a.screen != screenChat && !filtering {
			a.setScreen(screenChat)
			return a, nil
		}
	case "enter":
		if a.screen == screenChat {
			return a, a.submit()
		}
	}
	return a.delegate(msg)
}

// delegate routes a message to the components of the active screen.
// Non-key messages reach the input and the list regardless of screen so
// cursor blinks and filter matches keep flowing.
func (a *App) delegate(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if key, ok := msg.(tea.KeyMsg); ok {
		switch {
		case a.screen == screenChat && isScrollKey(key):
			a.viewport, cmd = a.viewport.Update(msg)
		case a.screen == screenChat:
			a.input, cmd = a.input.Update(msg)
		case a.screen == screenProducts:
			a.products, cmd = a.products.Update(msg)
		}
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	} else {
		a.input, cmd = a.input.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		a.products, cmd = a.products.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	if len(cmds) == 0 {
		return a, nil
	}
	return a, tea.Batch(cmds...)
}

func isScrollKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "up", "down", "pgup", "pgdown":
		return true
	}
	return false
}

func (a *App) setScreen(screen appScreen) {
	a.screen = screen
	if (screen == screenProgress || screen == screenSummary) && !a.busy {
		a.refreshInsights()
	}
}

// submit sends the typed input through the pipeline, or applies it to a
// pending A/B question first.
func (a *App) submit() tea.Cmd {
	if a.busy {
		a.statusMsg = "still processing the last input"
		return nil
	}
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return nil
	}
	a.input.Reset()
	a.say(roleUser, text)

	if a.pending != nil {
		return a.answerPending(text)
	}

	if a.prompt != "" {
		a.elicitor.ProcessAnswers(a.deps, a.state, []elicitor.Answer{{Question: a.prompt, Answer: text}})
		a.prompt = ""
	} else {
		a.state.AddMessage(roleUser, text)
	}
	return a.runPipeline(text)
}

func (a *App) runPipeline(text string) tea.Cmd {
	a.busy = true
	a.statusMsg = "processing"
	a.refreshViewport()
	pipe, st := a.pipeline, a.state
	run := func() tea.Msg {
		result, err := pipe.Process(context.Background(), st, text)
		return pipelineDoneMsg{result: result, err: err}
	}
	return tea.Batch(run, a.spinner.Tick)
}

// answerPending resolves the open A/B question. Free-form answers fall
// back to the language model when one is wired.
func (a *App) answerPending(text string) tea.Cmd {
	choice := normalizeChoice(text)
	if choice == "" && a.deps.Assist.Enabled() {
		parsed := a.deps.Assist.ParseAnswer(context.Background(), a.pending.Question, text)
		choice = normalizeChoice(parsed.ParsedValue)
	}
	if choice == "" {
		a.say(roleSystem, "Answer a or b.")
		a.refreshViewport()
		return nil
	}

	resp := a.pipeline.RespondAB(a.pending, choice)
	a.pending = nil
	switch resp.Action {
	case "keep_first", "keep_second":
		a.say(roleSystem, fmt.Sprintf("Kept the chosen constraint and removed %s.", resp.Removed))
	case "uc_selected":
		a.say(roleSystem, fmt.Sprintf("Focused on %s: %s.", resp.UseCase, a.catalog.UseCaseName(resp.UseCase)))
	default:
		a.say(roleSystem, "Answer not applied.")
	}
	a.statusMsg = fmt.Sprintf("applied %s", resp.Action)
	a.askNext()
	a.refreshInsights()
	a.refreshViewport()
	return nil
}

// normalizeChoice maps the accepted spellings onto A or B.
func normalizeChoice(text string) string {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(text), ").:"))
	switch cleaned {
	case "a", "option a", "first":
		return "A"
	case "b", "option b", "second":
		return "B"
	}
	return ""
}

func (a *App) handlePipelineDone(msg pipelineDoneMsg) tea.Cmd {
	a.busy = false
	if msg.err != nil {
		a.say(roleError, fmt.Sprintf("Processing failed: %v", msg.err))
		a.logError("tui: pipeline: %v", msg.err)
		a.refreshViewport()
		a.statusMsg = "processing failed"
		return nil
	}

	result := msg.result
	a.describeResult(result)
	if result.NeedsDisambiguation && result.Question != nil {
		a.pending = result.Question
		a.prompt = ""
		a.sayQuestion(result.Question)
	} else {
		a.askNext()
	}
	a.refreshInsights()
	a.refreshViewport()
	a.statusMsg = fmt.Sprintf("confidence %.2f via %s route", result.AggregatedConfidence, result.Route)
	return nil
}

// describeResult turns one pipeline turn into transcript lines.
func (a *App) describeResult(result orchestrator.ProcessResult) {
	if top := topUseCase(result.UseCaseProbabilities); top != "" {
		a.say(roleSystem, fmt.Sprintf("Leaning %s %s (%.0f%%)",
			top, a.catalog.UseCaseName(top), result.UseCaseProbabilities[top]*100))
	}
	for _, conflict := range result.Conflicts {
		a.say(roleSystem, "Conflict: "+conflict.Explanation)
	}
	if result.AutoResolve && result.SuggestedResolution != "" {
		a.say(roleSystem, "Auto-resolved: "+result.SuggestedResolution)
	}
	if active := a.pipeline.Status().ActiveConstraints; len(active) > 0 {
		a.say(roleSystem, fmt.Sprintf("Active constraints (%d): %s", len(active), strings.Join(active, ", ")))
	}
}

func (a *App) sayQuestion(q *orchestrator.Question) {
	a.say(roleAssistant, q.Question)
	if q.Options != nil {
		a.say(roleAssistant, "  A) "+q.Options.A)
		a.say(roleAssistant, "  B) "+q.Options.B)
	}
	for _, line := range q.Context {
		a.say(roleSystem, line)
	}
	a.say(roleSystem, "Answer a or b.")
}

func topUseCase(probs map[string]float64) string {
	top, best := "", 0.0
	for ucID, prob := range probs {
		if prob > best || (prob == best && (top == "" || ucID < top)) {
			top, best = ucID, prob
		}
	}
	return top
}

// greet opens the transcript and asks the first elicitation question.
func (a *App) greet() {
	a.say(roleAssistant, "Describe the system you need. Constraints, conflicts, and product matches build up as you go.")
	a.askNext()
}

// askNext surfaces the next unasked elicitation question, if any.
func (a *App) askNext() {
	questions := a.elicitor.NextQuestions(a.deps, a.state)
	if len(questions) == 0 {
		a.prompt = ""
		return
	}
	a.prompt = questions[0]
	a.say(roleAssistant, a.prompt)
}

func (a *App) say(role, text string) {
	a.transcript = append(a.transcript, chatLine{role: role, text: text})
}

// refreshInsights recomputes the data behind the progress and summary
// screens. Runs on the update goroutine only.
func (a *App) refreshInsights() {
	a.progress = a.elicitor.GetProgress(a.state)
	a.score = a.scorer.CheckCompleteness(a.deps, a.state)
	a.state.CompletenessScore = a.score
	a.report = a.checker.Validate(a.deps, a.state)
	a.recommended = a.catalog.RecommendProducts(validator.ProductNeeds(a.state))
	a.pstatus = a.pipeline.Status()
}

func (a *App) applySize() {
	innerWidth := max(24, a.width-4)
	bodyHeight := max(5, a.height-8)
	a.viewport.Width = innerWidth
	a.viewport.Height = bodyHeight
	a.input.Width = max(20, a.width-8)
	a.products.SetSize(innerWidth, bodyHeight+2)
	a.refreshViewport()
}

func (a *App) refreshViewport() {
	if !a.ready {
		return
	}
	a.viewport.SetContent(a.transcriptView())
	a.viewport.GotoBottom()
}

func (a *App) transcriptView() string {
	width := max(20, a.viewport.Width)
	wrap := lipgloss.NewStyle().Width(width)
	lines := make([]string, 0, len(a.transcript))
	for _, entry := range a.transcript {
		var rendered string
		switch entry.role {
		case roleUser:
			rendered = userStyle.Render("you ") + entry.text
		case roleAssistant:
			rendered = entry.text
		case roleError:
			rendered = errorStyle.Render(entry.text)
		default:
			rendered = systemStyle.Render(entry.text)
		}
		lines = append(lines, wrap.Render(rendered))
	}
	return strings.Join(lines, "\n")
}

// View renders the active screen between the tab header and the hint
// footer.
func (a *App) View() string {
	if !a.ready {
		return "Starting reqMAS…"
	}

	var body string
	switch a.screen {
	case screenChat:
		body = a.chatView()
	case screenProgress:
		body = a.progressView()
	case screenProducts:
		body = a.productsView()
	case screenSummary:
		body = a.summaryView()
	}
	return lipgloss.JoinVertical(lipgloss.Left, a.headerView(), body, a.footerView())
}

func (a *App) headerView() string {
	tabs := make([]string, 0, int(screenCount))
	for s := appScreen(0); s < screenCount; s++ {
		name := screenNames[s]
		if s == a.screen {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}
	return titleStyle.Render("reqMAS") + "  " + strings.Join(tabs, hintStyle.Render(" | "))
}

func (a *App) chatView() string {
	body := boxStyle.Width(max(24, a.width-4)).Render(a.viewport.View())
	inputLine := a.input.View()
	if a.busy {
		inputLine = a.spinner.View() + " processing…"
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, inputLine)
}

func (a *App) footerView() string {
	hints := "enter send · tab screens · ctrl+c quit"
	if a.screen != screenChat {
		hints = "tab screens · esc chat · q quit"
		if a.screen == screenProducts {
			hints = "/ filter · " + hints
		}
	}
	line := hintStyle.Render(hints)
	if a.statusMsg != "" {
		line += "  " + statusStyle.Render(a.statusMsg)
	}
	return line
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook != nil {
		a.logbook.Info(format, args...)
	}
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook != nil {
		a.logbook.Warn(format, args...)
	}
}

func (a *App) logError(format string, args ...any) {
	if a.logbook != nil {
		a.logbook.Error(format, args...)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
