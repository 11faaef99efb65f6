// =============================================================================
// AgentWrap 主入口
// =============================================================================
// 使用方法:
//
//	agentwrap serve --config config.yaml       # 启动 HTTP 服务
//	agentwrap mcp --config config.yaml         # 以 stdio 提供 MCP 工具
//	agentwrap invoke summarize --set topic=go  # 调用一个 Agent
//	agentwrap route "will it rain tomorrow?"   # 路由并调用
//	agentwrap memory stats                     # 记忆统计
//	agentwrap migrate up                       # 数据库迁移
//	agentwrap health --addr http://localhost:8080
// =============================================================================

// @title AgentWrap API
// @version 1.0.0
// @description Declarative LLM agents with typed output, tool loops, memory and routing.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description HS256 JWT, enabled when server.jwt.secret is set

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentwrap/config"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK       = 0
	exitFailure  = 1
	exitTemplate = 2
	exitParse    = 3
	exitToolLoop = 4
	exitModel    = 5
	exitStorage  = 6
	exitNoRoute  = 7
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行命令并把错误映射为退出码
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, appOpts ...AppOption) int {
	root := newRootCmd(appOpts...)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		if typed, ok := types.AsError(err); ok && typed.Raw != "" {
			fmt.Fprintln(stderr, "Raw model output:", typed.Raw)
		}
	}
	return exitCode(err)
}

// exitCode 按错误类型返回退出码
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	typed, ok := types.AsError(err)
	if !ok {
		return exitFailure
	}
	switch typed.Code {
	case types.ErrTemplate:
		return exitTemplate
	case types.ErrResponseParse:
		return exitParse
	case types.ErrToolLoopExceeded:
		return exitToolLoop
	case types.ErrModelInvocation:
		return exitModel
	case types.ErrStorage:
		return exitStorage
	case types.ErrNoRouteMatched:
		return exitNoRoute
	default:
		return exitFailure
	}
}

// =============================================================================
// 🌳 根命令
// =============================================================================

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	appOpts    []AppOption
}

func newRootCmd(appOpts ...AppOption) *cobra.Command {
	o := &rootOptions{appOpts: appOpts}
	cmd := &cobra.Command{
		Use:           "agentwrap",
		Short:         "Declarative LLM agents with memory and routing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "Dotenv file loaded before the config")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	cmd.AddCommand(
		newServeCmd(o),
		newMCPCmd(o),
		newInvokeCmd(o),
		newRouteCmd(o),
		newMemoryCmd(o),
		newMigrateCmd(o),
		newVersionCmd(),
		newHealthCmd(),
	)
	return cmd
}

// loadConfig 加载 .env 与配置文件并校验
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp 构建 App、执行 fn，结束后释放资源
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	return o.withAppConfig(cmd, cfg, fn)
}

func (o *rootOptions) withAppConfig(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, app *App) error) error {
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, logger, o.appOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if cerr := app.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()
	return fn(ctx, app)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
