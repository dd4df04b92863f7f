package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration of a cherry node.
type Config struct {
	Master  MasterConfig  `yaml:"master"`
	Worker  WorkerConfig  `yaml:"worker"`
	Logging LoggingConfig `yaml:"logging"`
}

// MasterConfig holds the settings of the serve command.
type MasterConfig struct {
	Port            int           `yaml:"port" env:"CHERRY_MASTER_PORT"`
	FilePort        int           `yaml:"file_port" env:"CHERRY_MASTER_FILE_PORT"`
	Secret          string        `yaml:"secret" env:"CHERRY_MASTER_SECRET"`
	MaxClients      int           `yaml:"max_clients" env:"CHERRY_MASTER_MAX_CLIENTS"`
	AsyncAllowed    bool          `yaml:"async_allowed" env:"CHERRY_MASTER_ASYNC_ALLOWED"`
	Dictionary      string        `yaml:"dictionary" env:"CHERRY_MASTER_DICTIONARY"`
	CaptureFile     string        `yaml:"capturefile" env:"CHERRY_MASTER_CAPTUREFILE"`
	ChecksumCommand string        `yaml:"checksum_command" env:"CHERRY_MASTER_CHECKSUM_COMMAND"`
	MinVersion      int           `yaml:"min_version" env:"CHERRY_MASTER_MIN_VERSION"`
	JoinTimeout     time.Duration `yaml:"join_timeout" env:"CHERRY_MASTER_JOIN_TIMEOUT"`
	BadSecretDelay  time.Duration `yaml:"bad_secret_delay" env:"CHERRY_MASTER_BAD_SECRET_DELAY"`
	TransferTimeout time.Duration `yaml:"transfer_timeout" env:"CHERRY_MASTER_TRANSFER_TIMEOUT"`
	// WriteTimeout bounds each message written to a worker; a worker that
	// cannot take one in time is disconnected.
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"CHERRY_MASTER_WRITE_TIMEOUT"`
	ReportInterval time.Duration `yaml:"report_interval" env:"CHERRY_MASTER_REPORT_INTERVAL"`
	StatusAddress  string        `yaml:"status_address" env:"CHERRY_MASTER_STATUS_ADDRESS"`
	RedisAddr      string        `yaml:"redis_addr" env:"CHERRY_MASTER_REDIS_ADDR"`
	RedisChannel   string        `yaml:"redis_channel" env:"CHERRY_MASTER_REDIS_CHANNEL"`
}

// ToolConfig selects the cracking tool of a worker.
type ToolConfig struct {
	Name string `yaml:"name" env:"CHERRY_WORKER_TOOL_NAME"`
	// Path defaults to Name.
	Path string `yaml:"path" env:"CHERRY_WORKER_TOOL_PATH"`
	// Speed, when positive, replaces the benchmark.
	Speed int64 `yaml:"speed" env:"CHERRY_WORKER_TOOL_SPEED"`
}

// WorkerConfig holds the settings of the connect command.
type WorkerConfig struct {
	MasterIP        string        `yaml:"master_ip" env:"CHERRY_WORKER_MASTER_IP"`
	MasterPort      int           `yaml:"master_port" env:"CHERRY_WORKER_MASTER_PORT"`
	FilePort        int           `yaml:"file_port" env:"CHERRY_WORKER_FILE_PORT"`
	MasterSecret    string        `yaml:"master_secret" env:"CHERRY_WORKER_MASTER_SECRET"`
	Async           bool          `yaml:"async" env:"CHERRY_WORKER_ASYNC"`
	Dictionary      string        `yaml:"dictionary" env:"CHERRY_WORKER_DICTIONARY"`
	CapturePath     string        `yaml:"capture_path" env:"CHERRY_WORKER_CAPTURE_PATH"`
	ChecksumCommand string        `yaml:"checksum_command" env:"CHERRY_WORKER_CHECKSUM_COMMAND"`
	Tool            ToolConfig    `yaml:"tool"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"CHERRY_WORKER_CONNECT_TIMEOUT"`
	JoinTimeout     time.Duration `yaml:"join_timeout" env:"CHERRY_WORKER_JOIN_TIMEOUT"`
	EchoInterval    time.Duration `yaml:"echo_interval" env:"CHERRY_WORKER_ECHO_INTERVAL"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"CHERRY_LOG_LEVEL"`
	Format     string `yaml:"format" env:"CHERRY_LOG_FORMAT"`
	Output     string `yaml:"output" env:"CHERRY_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"CHERRY_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"CHERRY_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"CHERRY_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"CHERRY_LOG_MAX_AGE"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Master: MasterConfig{
			Port:            9005,
			FilePort:        9006,
			MaxClients:      0,
			AsyncAllowed:    true,
			MinVersion:      1,
			JoinTimeout:     30 * time.Second,
			BadSecretDelay:  5 * time.Second,
			TransferTimeout: 30 * time.Second,
			WriteTimeout:    5 * time.Second,
			ReportInterval:  500 * time.Millisecond,
			RedisChannel:    "cherry:events",
		},
		Worker: WorkerConfig{
			MasterIP:       "127.0.0.1",
			MasterPort:     9005,
			FilePort:       9006,
			CapturePath:    "handshake.cap",
			Tool:           ToolConfig{Name: "pyrit"},
			ConnectTimeout: 10 * time.Second,
			JoinTimeout:    30 * time.Second,
			EchoInterval:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "tag",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "CHERRY_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets command-line overrides keyed by dot path, e.g. "master.port".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < config file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用命令行参数覆盖失败: %w", err)
	}

	cfg.Worker.Tool.Path = cfg.Worker.Tool.BinaryPath()
	return cfg, nil
}

// BinaryPath returns Path, or Name when no path is set.
func (t ToolConfig) BinaryPath() string {
	if t.Path != "" {
		return t.Path
	}
	return t.Name
}

// loadFromFile loads a YAML (or commented JSON) configuration file. A missing
// file is an error: the path was given explicitly.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(StripComments(data), cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// StripComments removes // line comments that are not inside a quoted string.
func StripComments(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = stripLine(line)
	}
	return []byte(strings.Join(lines, "\n"))
}

func stripLine(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' && quote == '"' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' || line[i-1] == ',' {
				return strings.TrimRight(line[:i], " \t")
			}
		}
	}
	return line
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		if l.envPrefix != "CHERRY_" {
			envTag = l.envPrefix + strings.TrimPrefix(envTag, "CHERRY_")
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := SetValue(cfg, key, value); err != nil {
			return fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return nil
}

// SetValue sets a configuration value by its dot-separated yaml path.
func SetValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a configuration from bytes on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(StripComments(data), cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}
