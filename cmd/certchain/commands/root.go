package commands

import (
	"fmt"
	"io"
	"os"

	"certchain/pkg/app"
	"certchain/pkg/config"
	"certchain/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	CC *app.App

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "certchain",
	Short:         "CertChain: certificate issuing and hash-chain validation",
	SilenceUsage:  true,
	SilenceErrors: false,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		CC, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize certchain: %w\n(Check database.* and storage.* in your config)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if CC == nil {
			return nil
		}
		return CC.Close()
	},
}

// Execute 是入口
func Execute() error {
	defer func() {
		if logCloser != nil {
			logCloser.Close()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.certchain/config.yaml)")

	// 2. --db-path 覆盖 database.path
	rootCmd.PersistentFlags().String("db-path", "", "sqlite database file")
	if err := viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db-path")); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量，然后初始化日志
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}

	var err error
	_, logCloser, err = logging.Setup(config.LogConfig())
	if err != nil {
		fmt.Println("Logging error:", err)
		os.Exit(1)
	}
}
