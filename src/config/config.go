package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. SPEED_INPUT_FILE or SPEED_HTTP_ADDR.
const EnvPrefix = "SPEED"

// Config holds the service settings read from config.json.
type Config struct {
	InputFile       string   `json:"input_file" envconfig:"input_file" validate:"required"` // measurement CSV (or .xlsx)
	DataDir         string   `json:"data_dir" envconfig:"data_dir" validate:"required"`     // where mailed drops are saved
	ExportPath      string   `json:"export_path" envconfig:"export_path"`
	SheetName       string   `json:"sheet_name" envconfig:"sheet_name"` // only used for .xlsx inputs
	LogName         string   `json:"log_name" envconfig:"log_name" validate:"required"`
	LogLevel        string   `json:"log_level" envconfig:"log_level" validate:"oneof=DEBUG INFO WARNING ERROR FATAL"`
	LogMaxSize      string   `json:"log_max_size" envconfig:"log_max_size"` // e.g. "10 * 1024 * 1024"
	PidFile         string   `json:"pid_file" envconfig:"pid_file"`
	Watch           bool     `json:"watch" envconfig:"watch"`
	RefreshInterval Duration `json:"refresh_interval" envconfig:"refresh_interval" validate:"gte=0"`

	HTTP HTTPConfig `json:"http" envconfig:"http"`

	Email struct {
		Enabled       bool     `json:"enabled" envconfig:"enabled"`
		Server        string   `json:"server" envconfig:"server" validate:"required_if=Enabled true"` // imap host:port
		Username      string   `json:"username" envconfig:"username" validate:"required_if=Enabled true"`
		Password      string   `json:"password" envconfig:"password"`
		TargetSubject string   `json:"target_subject" envconfig:"target_subject"` // subject keyword of drop mails
		CheckInterval Duration `json:"check_interval" envconfig:"check_interval" validate:"gte=0"`
	} `json:"email" envconfig:"email"`

	SendEmail struct {
		Enabled  bool     `json:"enabled" envconfig:"enabled"`
		Server   string   `json:"server" envconfig:"server" validate:"required_if=Enabled true"` // smtp host[:port]
		Username string   `json:"username" envconfig:"username" validate:"required_if=Enabled true"`
		Password string   `json:"password" envconfig:"password"`
		To       []string `json:"to" envconfig:"to" validate:"required_if=Enabled true"`
		Subject  string   `json:"subject" envconfig:"subject"`
	} `json:"send_email" envconfig:"send_email"`

	Push struct {
		Enabled bool   `json:"enabled" envconfig:"enabled"`
		Webhook string `json:"webhook" envconfig:"webhook" validate:"required_if=Enabled true"`
	} `json:"push" envconfig:"push"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr         string   `json:"addr" envconfig:"addr" validate:"required,hostname_port"`
	ReadTimeout  Duration `json:"read_timeout" envconfig:"read_timeout" validate:"gte=0"`
	WriteTimeout Duration `json:"write_timeout" envconfig:"write_timeout" validate:"gte=0"`
}

// DataConfig describes the layout of the measurement file.
type DataConfig struct {
	Columns         map[string]string `json:"columns" envconfig:"columns"`
	SwapCoordinates bool              `json:"swap_coordinates" envconfig:"swap_coordinates"`
	Encoding        string            `json:"encoding" envconfig:"encoding" validate:"oneof=utf-8 iso-8859-1 windows-1252"`
	NAValues        []string          `json:"na_values" envconfig:"na_values"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	loadErr            error
	mu                 sync.RWMutex

	validate = validator.New()
)

// LoadConfig loads both files once per process. Later calls return the
// first result.
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	once.Do(func() {
		instance, dataConfigInstance, loadErr = Load(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, loadErr
}

// Load reads, overrides from the environment and validates both files.
func Load(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	cfg, dcfg, err := loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		return nil, nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := envconfig.Process(EnvPrefix+"_DATA", dcfg); err != nil {
		return nil, nil, fmt.Errorf("apply data env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := dcfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, dcfg, nil
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read data config: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	return waitForResults(cfgChan, dcfgChan, errChan)
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		errChan <- fmt.Errorf("parse Config: %w", err)
		return
	}
	resultChan <- cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	dcfg := DefaultDataConfig()
	if err := json.Unmarshal(data, dcfg); err != nil {
		errChan <- fmt.Errorf("parse DataConfig: %w", err)
		return
	}
	resultChan <- dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg  *Config
		dcfg *DataConfig
		errs []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("configuration partially loaded")
	}

	return cfg, dcfg, nil
}

// DefaultConfig returns the values used for keys missing from config.json.
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir:         "data",
		LogName:         "app.log",
		LogLevel:        "INFO",
		LogMaxSize:      "10 * 1024 * 1024",
		RefreshInterval: Duration(5 * time.Minute),
	}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadTimeout = Duration(15 * time.Second)
	cfg.HTTP.WriteTimeout = Duration(60 * time.Second)
	cfg.Email.CheckInterval = Duration(5 * time.Minute)
	cfg.SendEmail.Subject = "Speed records report"
	return cfg
}

// DefaultDataConfig maps every logical column onto the header of the same name.
func DefaultDataConfig() *DataConfig {
	return &DataConfig{
		Columns:         map[string]string{},
		SwapCoordinates: true,
		Encoding:        "utf-8",
	}
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (dc *DataConfig) Validate() error {
	if err := validate.Struct(dc); err != nil {
		return fmt.Errorf("invalid data config: %w", err)
	}
	for logical, header := range dc.Columns {
		if strings.TrimSpace(header) == "" {
			return fmt.Errorf("invalid data config: empty header for column %q", logical)
		}
	}
	return nil
}

// Duration wraps time.Duration so it reads as "5m" in JSON and env vars.
type Duration time.Duration

// UnmarshalJSON parses a duration string such as "90s".
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.Decode(s)
}

// MarshalJSON writes the duration back as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Column returns the CSV header used for a logical column name.
func (dc *DataConfig) Column(logical string) string {
	mu.RLock()
	defer mu.RUnlock()
	if h, ok := dc.Columns[logical]; ok && h != "" {
		return h
	}
	return logical
}

func (dc *DataConfig) SetColumn(logical, header string) {
	mu.Lock()
	defer mu.Unlock()
	if dc.Columns == nil {
		dc.Columns = map[string]string{}
	}
	dc.Columns[logical] = header
}

func (dc *DataConfig) Swap() bool {
	mu.RLock()
	defer mu.RUnlock()
	return dc.SwapCoordinates
}
