package config

import (
	"fmt"
	"net"
	"strings"
)

// Limits shared by master and worker validation.
const (
	MinPort         = 1
	MaxPort         = 49151
	PrivilegedPort  = 1024
	MaxSecretLength = 20
	MaxWorkerSpeed  = 1_000_000
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values. Non-fatal findings are collected
// in Warnings.
type Validator struct {
	errors   ValidationErrors
	Warnings []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) addWarning(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v *Validator) reset() {
	v.errors = make(ValidationErrors, 0)
	v.Warnings = nil
}

func (v *Validator) result() error {
	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// ValidateMaster validates the settings used by the serve command.
func (v *Validator) ValidateMaster(cfg *Config) error {
	v.reset()
	v.validateMasterConfig(&cfg.Master)
	v.validateLoggingConfig(&cfg.Logging)
	return v.result()
}

// ValidateWorker validates the settings used by the connect command.
func (v *Validator) ValidateWorker(cfg *Config) error {
	v.reset()
	v.validateWorkerConfig(&cfg.Worker)
	v.validateLoggingConfig(&cfg.Logging)
	return v.result()
}

func (v *Validator) validatePort(field string, port int) {
	if port < MinPort || port > MaxPort {
		v.addError(field, fmt.Sprintf("port must be in %d..%d", MinPort, MaxPort))
		return
	}
	if port < PrivilegedPort {
		v.addWarning("%s %d is below %d and may require root privileges", field, port, PrivilegedPort)
	}
}

func (v *Validator) validateSecret(field, secret string) {
	if len(secret) > MaxSecretLength {
		v.addError(field, fmt.Sprintf("secret must be at most %d characters", MaxSecretLength))
	}
}

// validateMasterConfig validates the master configuration.
func (v *Validator) validateMasterConfig(cfg *MasterConfig) {
	v.validatePort("master.port", cfg.Port)
	v.validatePort("master.file_port", cfg.FilePort)
	if cfg.Port == cfg.FilePort {
		v.addError("master.file_port", "file port must differ from the join port")
	}

	v.validateSecret("master.secret", cfg.Secret)

	if cfg.MaxClients < 0 {
		v.addError("master.max_clients", "max clients must be non-negative (0 disables the limit)")
	}
	if cfg.Dictionary == "" {
		v.addError("master.dictionary", "dictionary path is required")
	}
	if cfg.CaptureFile == "" {
		v.addError("master.capturefile", "capture file path is required")
	}
	if cfg.MinVersion < 1 {
		v.addError("master.min_version", "min version must be at least 1")
	}

	if cfg.JoinTimeout <= 0 {
		v.addError("master.join_timeout", "join timeout must be positive")
	}
	if cfg.BadSecretDelay < 0 {
		v.addError("master.bad_secret_delay", "bad secret delay must be non-negative")
	}
	if cfg.TransferTimeout <= 0 {
		v.addError("master.transfer_timeout", "transfer timeout must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		v.addError("master.write_timeout", "write timeout must be positive")
	}
	if cfg.ReportInterval <= 0 {
		v.addError("master.report_interval", "report interval must be positive")
	}

	if cfg.StatusAddress != "" && !isValidAddress(cfg.StatusAddress) {
		v.addError("master.status_address", "invalid address format, expected host:port or :port")
	}
	if cfg.RedisAddr != "" && !isValidAddress(cfg.RedisAddr) {
		v.addError("master.redis_addr", "invalid address format, expected host:port")
	}
}

// validateWorkerConfig validates the worker configuration.
func (v *Validator) validateWorkerConfig(cfg *WorkerConfig) {
	if ip := net.ParseIP(cfg.MasterIP); ip == nil || ip.To4() == nil {
		v.addError("worker.master_ip", "master IP must be an IPv4 address")
	}
	v.validatePort("worker.master_port", cfg.MasterPort)
	v.validatePort("worker.file_port", cfg.FilePort)
	v.validateSecret("worker.master_secret", cfg.MasterSecret)

	if !cfg.Async && cfg.Dictionary == "" {
		v.addError("worker.dictionary", "dictionary path is required unless async")
	}
	if cfg.CapturePath == "" {
		v.addError("worker.capture_path", "capture path is required")
	}

	if cfg.Tool.Name == "" {
		v.addError("worker.tool.name", "tool name is required")
	}
	if cfg.Tool.Speed < 0 || cfg.Tool.Speed >= MaxWorkerSpeed {
		v.addError("worker.tool.speed", fmt.Sprintf("speed must be in 0..%d (0 runs the benchmark)", MaxWorkerSpeed-1))
	}

	if cfg.ConnectTimeout <= 0 {
		v.addError("worker.connect_timeout", "connect timeout must be positive")
	}
	if cfg.JoinTimeout <= 0 {
		v.addError("worker.join_timeout", "join timeout must be positive")
	}
	if cfg.EchoInterval <= 0 {
		v.addError("worker.echo_interval", "echo interval must be positive")
	}
}

// validateLoggingConfig validates the logging configuration.
func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	validFormats := map[string]bool{
		"tag":     true,
		"console": true,
		"json":    true,
	}
	if !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: tag, console, json", cfg.Format))
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"file":   true,
		"both":   true,
	}
	if !validOutputs[strings.ToLower(cfg.Output)] {
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, file, both", cfg.Output))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath == "" {
		v.addError("logging.file_path", "file path is required for file output")
	}
}

// isValidAddress checks if an address is in valid host:port or :port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return host == "" || net.ParseIP(host) != nil || isValidHostname(host)
}

// isValidHostname checks if a hostname is valid.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !alnum && c != '-' {
				return false
			}
		}
	}
	return true
}
