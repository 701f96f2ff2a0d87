// Package tui 是会话的交互式展示层（bubbletea）。
//
// 它只通过 session.Session 的公开操作驱动核心：Start/Reset/Snapshot/Subscribe；
// 状态变更经 Subscribe 推送为 snapshotMsg，模型本身不持有任何核心可变状态。
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chefbatch/internal/input"
	"chefbatch/internal/producers"
	"chefbatch/internal/session"
	"chefbatch/internal/state"
	"chefbatch/pkg/contract"
	"chefbatch/plugins/decoder/recipe"
)

const stepInterval = 800 * time.Millisecond

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	detailBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
)

// snapshotMsg 携带存储的最新快照。
type snapshotMsg state.Snapshot

// stepMsg 驱动“正在热锅...”之类的烹饪提示轮换。
type stepMsg time.Time

// Options 构造参数。
type Options struct {
	// Seed: 随机源种子（食材推荐与台词）；0 使用当前时间。
	Seed int64
	// MaxInputRunes: 输入框字符上限；0 使用默认值。
	MaxInputRunes int
}

// App 为 bubbletea 模型。
type App struct {
	ctx  context.Context
	sess *session.Session
	ch   chan state.Snapshot
	stop func()

	input    textinput.Model
	spin     spinner.Model
	rng      *rand.Rand
	snap     state.Snapshot
	step     int
	cursor   int
	detail   bool
	quotes   map[string]string
	lastTok  contract.Token
	err      error
	width    int
	maxRunes int
}

// New 构造模型并订阅会话快照。调用方负责在结束后调用 Close。
func New(ctx context.Context, sess *session.Session, opts Options) *App {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	max := opts.MaxInputRunes
	if max <= 0 {
		max = input.DefaultMaxRunes
	}
	ti := textinput.New()
	ti.Placeholder = "输入食材，例如：鸡蛋、番茄、葱"
	ti.CharLimit = max - 1
	ti.Prompt = "食材 > "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	a := &App{
		ctx:      ctx,
		sess:     sess,
		ch:       make(chan state.Snapshot, 1),
		input:    ti,
		spin:     sp,
		rng:      rand.New(rand.NewSource(seed)),
		snap:     sess.Snapshot(),
		quotes:   map[string]string{},
		maxRunes: max,
	}
	a.stop = sess.Subscribe(a.push)
	return a
}

// push 只保留最新快照：通道满时丢弃旧值。
func (a *App) push(s state.Snapshot) {
	for {
		select {
		case a.ch <- s:
			return
		default:
			select {
			case <-a.ch:
			default:
			}
		}
	}
}

// Close 取消订阅。
func (a *App) Close() {
	if a.stop != nil {
		a.stop()
	}
}

func (a *App) waitSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-a.ch:
			return snapshotMsg(s)
		case <-a.ctx.Done():
			return nil
		}
	}
}

func tickStep() tea.Cmd {
	return tea.Tick(stepInterval, func(t time.Time) tea.Msg { return stepMsg(t) })
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.spin.Tick, a.waitSnapshot(), tickStep())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		return a, nil
	case snapshotMsg:
		a.applySnapshot(state.Snapshot(msg))
		return a, a.waitSnapshot()
	case stepMsg:
		a.step++
		return a, tickStep()
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	case tea.KeyMsg:
		if m, cmd, ok := a.handleKey(msg); ok {
			return m, cmd
		}
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		a.sess.Reset()
		return a, tea.Quit, true
	case "enter":
		a.start()
		return a, nil, true
	case "ctrl+r":
		a.sess.Reset()
		a.err = nil
		a.detail = false
		return a, nil, true
	case "ctrl+s":
		a.input.SetValue(input.Join(input.Random(a.rng, 3+a.rng.Intn(3))))
		a.input.CursorEnd()
		return a, nil, true
	case "up":
		if a.cursor > 0 {
			a.cursor--
		}
		return a, nil, true
	case "down", "tab":
		if a.cursor < len(a.sess.Producers())-1 {
			a.cursor++
		}
		return a, nil, true
	case "ctrl+o":
		a.detail = !a.detail
		return a, nil, true
	case "esc":
		a.detail = false
		return a, nil, true
	}
	return a, nil, false
}

func (a *App) start() {
	a.err = nil
	if _, err := a.sess.Start(a.ctx, a.input.Value()); err != nil {
		a.err = err
		return
	}
	a.detail = false
}

func (a *App) applySnapshot(s state.Snapshot) {
	if s.Token != a.lastTok {
		a.quotes = map[string]string{}
		a.lastTok = s.Token
	}
	for _, it := range s.Items {
		if _, done := a.quotes[it.Producer.Key]; done {
			continue
		}
		switch it.Status {
		case contract.StatusCompleted:
			a.quotes[it.Producer.Key] = producers.Quote(it.Producer, a.rng)
		case contract.StatusFailed:
			a.quotes[it.Producer.Key] = producers.Pick(producers.FailQuips, a.rng)
		}
	}
	a.snap = s
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("🍳 大厨 PK 台"))
	b.WriteString("\n\n")
	b.WriteString(a.input.View())
	b.WriteString("\n")
	if a.err != nil {
		b.WriteString(errStyle.Render("✗ " + a.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	ps := a.sess.Producers()
	for i, p := range ps {
		mark := "  "
		if i == a.cursor {
			mark = cursorStyle.Render("▸ ")
		}
		b.WriteString(mark)
		b.WriteString(a.renderProducer(p))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	if a.detail {
		if d := a.renderDetail(); d != "" {
			b.WriteString("\n")
			b.WriteString(d)
		}
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("enter 开始 · ctrl+s 随机食材 · ↑/↓ 选择 · ctrl+o 菜谱 · ctrl+r 重置 · ctrl+c 退出"))
	return b.String()
}

func (a *App) renderProducer(p contract.Producer) string {
	label := producerStyle(p).Render(producers.Label(p))
	it, ok := a.snap.Item(p.Key)
	if !ok || it.Status == contract.StatusIdle {
		return label + hintStyle.Render("  待命")
	}
	switch it.Status {
	case contract.StatusRunning:
		return a.spin.View() + " " + label + "  " + hintStyle.Render(producers.CookingSteps[(a.step+len(p.Key))%len(producers.CookingSteps)])
	case contract.StatusCompleted:
		medal := state.Medal(it.Rank)
		if medal == "" {
			medal = fmt.Sprintf("#%d", it.Rank+1)
		}
		title := contract.TitleOf(it.Doc)
		return fmt.Sprintf("%s %s  %s  %s", medal, label, okStyle.Render(title), hintStyle.Render(a.quotes[p.Key]))
	default:
		reason := ""
		if it.Failure != nil {
			reason = string(it.Failure.Kind)
		}
		return fmt.Sprintf("✗ %s  %s  %s", label, failStyle.Render(a.quotes[p.Key]), hintStyle.Render(reason))
	}
}

func producerStyle(p contract.Producer) lipgloss.Style {
	st := lipgloss.NewStyle().Bold(true)
	if c := p.Meta[producers.MetaColor]; c != "" {
		st = st.Foreground(lipgloss.Color(c))
	}
	return st
}

func (a *App) renderFooter() string {
	s := a.snap
	if s.Idle() {
		return hintStyle.Render("准备就绪")
	}
	line := fmt.Sprintf("进度 %d/%d · 成功 %d · 失败 %d", s.Completed+s.Failed, len(s.Items), s.Completed, s.Failed)
	if s.AllTerminal() {
		if s.Completed == 0 {
			return errStyle.Render("全部失败 · " + line)
		}
		return okStyle.Render("全部完成 · " + line)
	}
	return line
}

func (a *App) renderDetail() string {
	ps := a.sess.Producers()
	if a.cursor >= len(ps) {
		return ""
	}
	it, ok := a.snap.Item(ps[a.cursor].Key)
	if !ok || it.Status != contract.StatusCompleted {
		return ""
	}
	body := ""
	if d := recipe.DishOf(it.Doc); d != nil {
		body = recipe.Format(d)
	} else {
		var buf bytes.Buffer
		if err := json.Indent(&buf, it.Doc.Raw, "", "  "); err == nil {
			body = buf.String()
		} else {
			body = string(it.Doc.Raw)
		}
	}
	st := detailBox
	if a.width > 4 {
		st = st.Width(a.width - 4)
	}
	return st.Render(strings.TrimRight(body, "\n"))
}

// Run 启动交互界面直至退出；in/out 为空时使用终端。
func Run(ctx context.Context, sess *session.Session, opts Options, in io.Reader, out io.Writer) error {
	app := New(ctx, sess, opts)
	defer app.Close()
	popts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if in != nil {
		popts = append(popts, tea.WithInput(in))
	}
	if out != nil {
		popts = append(popts, tea.WithOutput(out))
	}
	_, err := tea.NewProgram(app, popts...).Run()
	sess.Reset()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
