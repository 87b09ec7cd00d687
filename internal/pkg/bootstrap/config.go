// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构。
// 从 yaml 文件加载，个别字段允许环境变量覆盖，方便容器化部署。
type Config struct {
	App struct {
		IssuanceTopic     string `yaml:"issuance_topic"`
		IssuanceDLTTopic  string `yaml:"issuance_dlt_topic"`
		NotificationTopic string `yaml:"notification_topic"`
		ConsumerGroup     string `yaml:"consumer_group"`
		LockBackend       string `yaml:"lock_backend"` // "redis" 或 "zookeeper"
	} `yaml:"app"`

	Infra struct {
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Mysql struct {
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Addr     string `yaml:"addr"`
			Database string `yaml:"database"`
		} `yaml:"mysql"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			ServerAddrs string `yaml:"server_addrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// LoadConfig 读取配置文件并应用环境变量覆盖，结果存入全局。
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	currentConfig.Store(cfg)
	return cfg, nil
}

// GetCurrentConfig 返回当前生效的配置。必须在 LoadConfig 之后调用。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		// 未显式加载时退回默认值，保证本地调试可用
		cfg = defaultConfig()
		applyEnvOverrides(cfg)
		currentConfig.Store(cfg)
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.IssuanceTopic = "coupon-issuance-requests"
	cfg.App.IssuanceDLTTopic = "coupon-issuance-requests-dlt"
	cfg.App.NotificationTopic = "notifications"
	cfg.App.ConsumerGroup = "issuance-worker-group"
	cfg.App.LockBackend = "redis"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Mysql.User = "root"
	cfg.Infra.Mysql.Password = "root"
	cfg.Infra.Mysql.Addr = "localhost:3306"
	cfg.Infra.Mysql.Database = "couponhub"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Infra.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("MYSQL_ADDR"); ok {
		cfg.Infra.Mysql.Addr = v
	}
	if v, ok := os.LookupEnv("MYSQL_USER"); ok {
		cfg.Infra.Mysql.User = v
	}
	if v, ok := os.LookupEnv("MYSQL_PASSWORD"); ok {
		cfg.Infra.Mysql.Password = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("ZOOKEEPER_SERVERS"); ok {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		cfg.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("NACOS_GROUP"); ok {
		cfg.Infra.Nacos.Group = v
	}
	if v, ok := os.LookupEnv("LOCK_BACKEND"); ok {
		cfg.App.LockBackend = v
	}
}
