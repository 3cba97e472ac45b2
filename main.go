package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/any-hub/fsroute/internal/config"
)

type command string

const (
	commandServe  command = "serve"
	commandRoutes command = "routes"
	commandCheck  command = "check-config"
)

// cliOptions 汇总 CLI 参数解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	command     command
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 解析参数并运行子命令，返回退出码：参数错误为 2，运行失败为 1。
func execute(args []string) int {
	code := 0
	root := newRootCommand(func(opts cliOptions) {
		code = run(opts)
	})
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}
	return code
}

// newRootCommand 构建 fsroute 命令树，不带子命令时等同于 serve。
func newRootCommand(onRun func(cliOptions)) *cobra.Command {
	var (
		configFlag  string
		showVersion bool
	)

	resolve := func(cmd command) cliOptions {
		path := os.Getenv(config.EnvConfigPath)
		if configFlag != "" {
			path = configFlag
		}
		if path == "" {
			path = "config.toml"
		}
		return cliOptions{configPath: path, command: cmd, showVersion: showVersion}
	}

	root := &cobra.Command{
		Use:           "fsroute",
		Short:         "File-system driven HTTP route server",
		Long:          "fsroute watches a directory tree, compiles every index file into a route and serves them over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			onRun(resolve(commandServe))
		},
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+config.EnvConfigPath+" 覆盖）")
	root.Flags().BoolVar(&showVersion, "version", false, "显示版本信息")

	sub := func(name command, short string) *cobra.Command {
		return &cobra.Command{
			Use:   string(name),
			Short: short,
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				onRun(resolve(name))
			},
		}
	}
	root.AddCommand(
		sub(commandServe, "Serve routes over HTTP"),
		sub(commandRoutes, "Print the route table once the initial scan settles"),
		sub(commandCheck, "Validate the configuration and exit"),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				onRun(cliOptions{showVersion: true})
			},
		},
	)
	return root
}

// parseCLIFlags 解析参数但不运行，供测试检查配置路径与子命令。
func parseCLIFlags(args []string) (cliOptions, error) {
	var (
		opts cliOptions
		ran  bool
	)
	root := newRootCommand(func(o cliOptions) {
		opts = o
		ran = true
	})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if !ran {
		return cliOptions{}, errors.New("未选择命令")
	}
	return opts, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	switch opts.command {
	case commandCheck:
		return runCheck(cfg, opts, logger)
	case commandRoutes:
		return runRoutes(cfg, opts, logger)
	default:
		return runServe(cfg, opts, logger)
	}
}
