package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	cfgpkg "chefbatch/internal/config"
	"chefbatch/internal/diag"
	"chefbatch/internal/export"
	"chefbatch/internal/input"
	"chefbatch/internal/producers"
	"chefbatch/internal/session"
	"chefbatch/internal/state"
	"chefbatch/internal/tui"
	"chefbatch/pkg/contract"
	"chefbatch/plugins/decoder/recipe"
)

// 测试替换点
var (
	assemble             = cfgpkg.Assemble
	runTUI               = tui.Run
	stdout     io.Writer = os.Stdout
	stdin      io.Reader = os.Stdin
	randSource           = func() rand.Source { return rand.NewSource(time.Now().UnixNano()) }
)

// 退出码
const (
	exitOK        = 0
	exitRuntime   = 1
	exitAllFailed = 2
	exitConfig    = 3
)

// 默认子命令：以位置参数为食材跑一个批次，按完成顺序输出结果。
// 全局旗标：--config, --llm, --producers, --concurrency, --out, --tui, --surprise, --show, --status, --init-config
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = cfgpkg.LoadDotEnv(".env")
	// 配置解析前的日志写 stderr；合并配置后按 logging 重建。
	logger := diag.NewLoggerIn("", corrID, "info")

	var (
		flagConfig      string
		flagLLM         string
		flagProducers   string
		flagConcurrency int
		flagOut         string
		flagInitDir     string
		flagTUI         bool
		flagSurprise    bool
		flagShow        bool
		flagStatus      bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagLLM, "llm", "", "provider 名称（覆盖配置）")
	flag.StringVar(&flagProducers, "producers", "", "仅启用这些厨师 key，逗号分隔（覆盖配置）")
	flag.IntVar(&flagConcurrency, "concurrency", 0, "同时在途的厨师上限（覆盖配置；0 不限制）")
	flag.StringVar(&flagOut, "out", "", "导出目录：批次结果写为 batch-<token>.jsonl")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成 config.json、.env 与 producers.yaml 模板（已存在则跳过）；不带值时为当前目录")
	flag.BoolVar(&flagTUI, "tui", false, "交互界面")
	flag.BoolVar(&flagSurprise, "surprise", false, "未提供食材时随机挑选")
	flag.BoolVar(&flagShow, "show", false, "输出每道菜的完整菜谱")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	normalizeInitArg()
	flag.Parse()

	if dir := strings.TrimSpace(flagInitDir); dir != "" {
		if err := initConfig(dir); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return exitConfig
		}
		return exitOK
	}

	cfg, err := loadConfig(flagConfig)
	if err != nil {
		fprintf(os.Stderr, "%v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	var overCLI cfgpkg.Config
	overCLI.LLM = strings.TrimSpace(flagLLM)
	if flagConcurrency > 0 {
		overCLI.Concurrency = flagConcurrency
	}
	overCLI.Producers = splitKeys(flagProducers)
	if dir := strings.TrimSpace(flagOut); dir != "" {
		overCLI.Options.Writer = writerOptions(cfg.Options.Writer, dir)
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	logDir := cfg.Logging.Dir
	if logDir == "-" {
		logDir = ""
	}
	logger = diag.NewLoggerIn(logDir, corrID, cfg.Logging.Level)
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	rt, err := assemble(cfg, logger)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	logEffective(logger, cfg, rt)

	sess, err := session.New(rt.Producers, rt.Generator, session.Options{
		MaxInputRunes: rt.MaxInputRunes,
		Concurrency:   rt.Concurrency,
		Logger:        logger,
	})
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if flagTUI {
		// 交互界面独占终端，关闭 stderr 状态输出。
		diag.SetTerminal(nil)
		if err := runTUI(ctx, sess, tui.Options{MaxInputRunes: rt.MaxInputRunes}, nil, nil); err != nil {
			fprintf(os.Stderr, "交互界面异常退出: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "tui", &start)
			return exitRuntime
		}
		return exitOK
	}

	text, err := readInput(flag.Args())
	if err != nil {
		fprintf(os.Stderr, "读取食材失败: %v\n", err)
		if errors.Is(err, contract.ErrInvalidInput) {
			return exitConfig
		}
		return exitRuntime
	}
	if text == "" && flagSurprise {
		rng := rand.New(randSource())
		text = input.Join(input.Random(rng, 3+rng.Intn(3)))
	}
	if text == "" {
		fprintf(os.Stderr, "请提供食材，例如：chefbatch 鸡蛋 番茄（或使用 --surprise）\n")
		return exitConfig
	}

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(len(rt.Producers), cfg.LLM)

	t := logger.Start("cli", "batch")
	b, err := sess.Start(ctx, text)
	if err != nil {
		fprintf(os.Stderr, "食材无效: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "invalid input", &start)
		if errors.Is(err, contract.ErrInvalidInput) {
			return exitConfig
		}
		return exitRuntime
	}
	evs, err := b.Wait(ctx)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("cli", code, "first error", &start)
		diag.IncOp("cli", "batch", "error")
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return exitRuntime
	}
	t.Finish("batch", int64(len(evs)))

	printResults(stdout, evs, rt.Producers, flagShow)

	if rt.Writer != nil {
		id := export.ArtifactName(b.Token)
		n, err := export.Write(ctx, rt.Writer, id, evs, rt.Producers)
		if err != nil {
			fprintf(os.Stderr, "导出失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "export", &start)
			return exitRuntime
		}
		logger.InfoFinish("export", string(id), start, int64(n))
	}

	diag.ObserveDuration("cli", "finish", time.Since(start).Milliseconds())
	snap := sess.Snapshot()
	if snap.Completed == 0 {
		diag.IncOp("cli", "finish", "all_failed")
		return exitAllFailed
	}
	diag.IncOp("cli", "finish", "success")
	return exitOK
}

// loadConfig: 默认值 ← JSON（文件或 CHEFBATCH_CONFIG_JSON）← ENV。
func loadConfig(path string) (cfgpkg.Config, error) {
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadJSON(path, raw)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	return cfgpkg.Merge(cfg, overEnv), nil
}

// readInput 拼接位置参数；唯一参数为 "-" 时读取 STDIN（不能与其他参数混用）。
func readInput(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(io.LimitReader(stdin, 64*1024))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	for _, a := range args {
		if a == "-" {
			return "", fmt.Errorf("\"-\" 不能与其他食材混用: %w", contract.ErrInvalidInput)
		}
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}

// writerOptions 在既有 writer options 上替换 output_dir。
func writerOptions(base json.RawMessage, dir string) json.RawMessage {
	var m map[string]any
	if len(base) > 0 {
		_ = json.Unmarshal(base, &m)
	}
	if m == nil {
		m = map[string]any{}
	}
	m["output_dir"] = dir
	b, _ := json.Marshal(m)
	return b
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// printResults 按完成顺序输出：成功带奖牌与菜名，失败带分类。
func printResults(w io.Writer, evs []contract.ProgressEvent, ps []contract.Producer, show bool) {
	recs := export.Records(evs, ps)
	for i, r := range recs {
		if r.Status != contract.StatusCompleted.String() {
			fmt.Fprintf(w, "✗  %s | %s: %s\n", r.Label, r.Failure, r.Reason)
			continue
		}
		medal := state.Medal(r.Rank - 1)
		if medal == "" {
			medal = fmt.Sprintf("#%d", r.Rank)
		}
		fmt.Fprintf(w, "%s %s | %s | %s\n", medal, r.Label, r.Title, diag.FormatDur(time.Duration(r.ElapsedMS)*time.Millisecond))
		if show {
			if d := recipe.DishOf(evs[i].Outcome.Doc); d != nil {
				fmt.Fprintf(w, "\n%s\n", recipe.Format(d))
			} else {
				fmt.Fprintf(w, "\n%s\n\n", evs[i].Outcome.Doc.Raw)
			}
		}
	}
}

func logEffective(logger *diag.Logger, cfg cfgpkg.Config, rt *cfgpkg.Runtime) {
	kv := map[string]string{
		"producers":       fmt.Sprintf("%d", len(rt.Producers)),
		"concurrency":     fmt.Sprintf("%d", rt.Concurrency),
		"max_input_runes": fmt.Sprintf("%d", rt.MaxInputRunes),
		"llm":             cfg.LLM,
		"prompt_builder":  cfg.Components.PromptBuilder,
		"decoder":         cfg.Components.Decoder,
		"writer":          cfg.Components.Writer,
		"rate_gate":       fmt.Sprintf("%t", rt.Gate != nil),
	}
	if rt.Gate != nil {
		kv["rate_quota"] = rt.Gate.Quota(rt.GateKey).String()
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	logger.DebugStart("config", "effective", "", "", kv)
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

// initConfig 生成 config.json、.env 与 producers.yaml；已存在的文件跳过。
func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil && !os.IsExist(err) {
		return err
	}
	if err := writeNew(filepath.Join(dir, ".env"), []byte(cfgpkg.DotEnvTemplate())); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	y, err := producers.Marshal(producers.DefaultFile())
	if err != nil {
		return err
	}
	return writeNew(filepath.Join(dir, "producers.yaml"), y)
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeNew 仅创建新文件；已存在时跳过。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// preflightCheckOutputDir: 配置了 fs writer 的 output_dir 时，启动前检查可写性。
// 目录存在则尝试创建并删除临时文件；不存在则检查父目录。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" || len(cfg.Options.Writer) == 0 {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
