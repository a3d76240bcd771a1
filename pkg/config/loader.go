package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"certchain/pkg/logging"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀 (CERTCHAIN_SERVER_ADDR 等)
const EnvPrefix = "CERTCHAIN"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	SetDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录 -> ./.certchain -> ~/.certchain
		viper.AddConfigPath(".")
		viper.AddConfigPath(".certchain")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".certchain"))
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量，server.addr -> CERTCHAIN_SERVER_ADDR
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 只是没找到配置文件不算错，格式错才是错
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			fmt.Println("⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Println("🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// SetDefaults 注册所有配置项的默认值
func SetDefaults() {
	// 服务端
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.workers", 10)
	viper.SetDefault("server.queue_size", 128)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.max_body_bytes", 32<<20)

	// 数据库
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "certificate_validator.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "certchain")
	viper.SetDefault("database.sslmode", "disable")

	// 上传文件存储
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", "uploads")
	viper.SetDefault("storage.s3.region", "us-east-1")

	// 缓存
	viper.SetDefault("cache.ttl", 24*time.Hour)

	// 日志
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
}

// LogConfig 从 Viper 读取日志配置
func LogConfig() logging.Config {
	return logging.Config{
		Level:      viper.GetString("log.level"),
		Format:     viper.GetString("log.format"),
		File:       viper.GetString("log.file"),
		MaxSizeMB:  viper.GetInt("log.max_size_mb"),
		MaxBackups: viper.GetInt("log.max_backups"),
		MaxAgeDays: viper.GetInt("log.max_age_days"),
	}
}
