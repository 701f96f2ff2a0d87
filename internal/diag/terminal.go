package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Terminal 为批次进度的终端输出器。
// - TTY：进度单行覆盖刷新（≥100ms 节流），任务完成行与汇总行正常换行；
// - 非 TTY / CI：只输出关键节点行，不含回车。
type Terminal struct {
	w         io.Writer
	enabled   bool
	isTTY     bool
	producers int
	llm       string
	runStart  time.Time
	batch     string // 截短显示
	batchID   string // 当前批次完整令牌；为空表示无在途批次
	total     int
	done      int
	failed    int
	lastLen   int
	lastFlush time.Time
	st        termStyles
	mu        sync.Mutex
}

type termStyles struct {
	tag   lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
	rank  lipgloss.Style
}

func newTermStyles(w io.Writer) termStyles {
	r := lipgloss.NewRenderer(w)
	return termStyles{
		tag:   r.NewStyle().Foreground(lipgloss.Color("63")).Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		muted: r.NewStyle().Foreground(lipgloss.Color("245")),
		rank:  r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

var (
	termMu  sync.RWMutex
	termCur *Terminal
)

// SetTerminal 设置全局终端输出器（可为 nil）。
func SetTerminal(t *Terminal) {
	termMu.Lock()
	termCur = t
	termMu.Unlock()
}

// GetTerminal 返回全局终端输出器（可能为 nil）。
func GetTerminal() *Terminal {
	termMu.RLock()
	defer termMu.RUnlock()
	return termCur
}

// NewTerminal 创建终端输出器；enabled=false 时全部为 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	t := &Terminal{w: w, enabled: enabled, st: newTermStyles(w)}
	if os.Getenv("CI") != "" {
		t.isTTY = false
		return t
	}
	if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) != 0 {
			t.isTTY = true
		}
	}
	return t
}

// RunStart: 打印运行概要。
func (t *Terminal) RunStart(producers int, llm string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.producers = producers
	t.llm = llm
	t.runStart = time.Now()
	t.println(fmt.Sprintf("%s 厨师=%d | llm=%s", t.st.tag.Render("[run]"), producers, safe(llm)))
}

// BatchStart: 新批次开始（token 截短显示）。
func (t *Terminal) BatchStart(batch, input string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.batchID = batch
	t.batch = shorten(batch, 8)
	t.total = total
	t.done = 0
	t.failed = 0
	t.lastFlush = time.Time{}
	t.println(fmt.Sprintf("%s %s | 食材=%s | 厨师=%d",
		t.st.tag.Render("[batch]"), t.batch, shorten(safe(input), 40), total))
}

// TaskDone: 单个生产者完成（成功带名次与奖牌，失败带原因）。
// batch 不是当前批次（已重置或已被新批次取代）时不输出。
func (t *Terminal) TaskDone(batch, medal, label string, rank int, ok bool, detail string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || batch != t.batchID {
		return
	}
	t.done++
	if !ok {
		t.failed++
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	var line string
	if ok {
		head := t.st.ok.Render("[done]")
		if medal != "" {
			head += " " + medal
		}
		line = fmt.Sprintf("%s %s | %s | 用时 %s", head, safe(label),
			t.st.rank.Render(fmt.Sprintf("第%d名", rank+1)), formatDur(dur))
		if d := strings.TrimSpace(detail); d != "" {
			line += " | " + shorten(safe(d), 40)
		}
	} else {
		line = fmt.Sprintf("%s %s | %s | 用时 %s", t.st.fail.Render("[fail]"), safe(label),
			shorten(safe(detail), 80), formatDur(dur))
	}
	t.println(line)
	if t.isTTY && t.done < t.total {
		t.lastFlush = time.Time{}
		t.progressLocked()
	}
}

// Progress: 周期性进度（仅 TTY，≥100ms 节流）。
func (t *Terminal) Progress() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.progressLocked()
}

func (t *Terminal) progressLocked() {
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[batch] %s | 进度 %d/%d | 失败 %d | 用时 %s",
		t.batch, t.done, t.total, t.failed, formatSince(t.runStart))
	t.printInline(t.st.muted.Render(line))
}

// BatchFinish: 批次汇总；全部失败时标记为 fail。被放弃的批次不输出。
func (t *Terminal) BatchFinish(batch string, completed, failed int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || batch != t.batchID {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	tag := t.st.ok.Render("[ok]")
	if completed == 0 && failed > 0 {
		tag = t.st.fail.Render("[fail]")
	}
	t.println(fmt.Sprintf("%s 全部完成 | 成功 %d | 失败 %d | 总用时 %s", tag, completed, failed, formatDur(dur)))
}

// Reset: 批次被放弃时输出提示并清空计数。
func (t *Terminal) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	if t.batch != "" {
		t.println(fmt.Sprintf("%s %s | 已重置", t.st.muted.Render("[reset]"), t.batch))
	}
	t.batch, t.batchID, t.total, t.done, t.failed = "", "", 0, 0, 0
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// \r + 内容；新行比旧行短时以空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten 按 rune 截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}

// FormatDur 导出给展示层使用。
func FormatDur(d time.Duration) string { return formatDur(d) }
