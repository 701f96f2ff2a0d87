package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// lineSink 接收一行已编码的事件（不含换行）。
type lineSink interface {
	WriteLine(b []byte) error
}

// writerSink 将事件逐行写入任意 io.Writer。
type writerSink struct{ w io.Writer }

func (s writerSink) WriteLine(b []byte) error {
	_, err := s.w.Write(append(b, '\n'))
	return err
}

// Logger 为最小结构化日志器：单行 JSON；支持级别过滤。
type Logger struct {
	corrID string
	level  Level
	sink   lineSink
	mu     sync.Mutex
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/chefbatch-current.txt，10m 轮转。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerIn("logs", corrID, level)
}

// NewLoggerIn 同 NewLogger，但指定日志目录；dir 为空时写 stderr。
func NewLoggerIn(dir, corrID, level string) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	l := &Logger{corrID: corrID, level: lvl}
	if strings.TrimSpace(dir) != "" {
		l.sink = NewRotatingFile(dir, 10*1024*1024)
	}
	return l
}

// NewLoggerTo 将日志写入给定 Writer（测试与嵌入场景）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), sink: writerSink{w: w}}
}

// Discard 返回丢弃全部事件的日志器。
func Discard() *Logger { return NewLoggerTo(io.Discard, "", "error") }

// Close 关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if rf, ok := l.sink.(*RotatingFile); ok {
		return rf.Close()
	}
	return nil
}

// Enabled 报告给定级别是否会输出。
func (l *Logger) Enabled(lv Level) bool { return l != nil && lv >= l.level }

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Level    string            `json:"level"`
	TS       string            `json:"ts"`
	CorrID   string            `json:"corr_id"`
	Comp     string            `json:"comp"`
	Stage    string            `json:"stage"` // start|progress|finish|error
	Code     string            `json:"code,omitempty"`
	DurMS    int64             `json:"dur_ms,omitempty"`
	Count    int64             `json:"count,omitempty"`
	Producer string            `json:"producer,omitempty"`
	Batch    string            `json:"batch_id,omitempty"`
	Msg      string            `json:"msg"`
	KV       map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		// 后备：写 stderr
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 producer/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, producer, batch string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Producer: producer, Batch: batch, Msg: msg})
	return &Timer{l: l, comp: comp, producer: producer, batch: batch, t0: time.Now()}
}

// StartWithKV 记录带 producer/batch_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, producer, batch string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Producer: producer, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, producer: producer, batch: batch, t0: time.Now()}
}

// Progress 记录单个任务的进度事件（info）。
func (l *Logger) Progress(comp, msg, producer, batch string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "progress", Producer: producer, Batch: batch, Msg: msg, KV: kv})
}

// WarnWith 记录 warn 事件。
func (l *Logger) WarnWith(comp, code, msg, producer, batch string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "progress", Code: code, Producer: producer, Batch: batch, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg})
}

// ErrorWith 支持 producer/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, producer, batch string) {
	l.ErrorWithKV(comp, code, msg, durSince, producer, batch, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, producer, batch string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Producer: producer, Batch: batch, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l        *Logger
	comp     string
	producer string
	batch    string
	t0       time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Producer: t.producer, Batch: t.batch, Msg: msg})
}

// Since 返回自 start 以来的耗时。
func (t *Timer) Since() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

// DebugStart 输出调试级别的“start”类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, producer, batch string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Producer: producer, Batch: batch, Msg: msg, KV: kv})
}

// Debugf 输出调试级别的自由文本事件。
func (l *Logger) Debugf(comp, producer, batch, format string, a ...any) {
	if !l.Enabled(Debug) {
		return
	}
	l.log(Debug, Event{Comp: comp, Stage: "progress", Producer: producer, Batch: batch, Msg: fmt.Sprintf(format, a...)})
}
