package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"go.olrik.dev/invigilator/internal/integrity"
)

// Configuration represents the complete invigilator configuration
type Configuration struct {
	ConfigPath string // Directory containing config files
	Verbose    int    // Verbosity level
	ExamURL    string // Page opened in the exam window

	Window      WindowConfig
	Idle        IdleConfig
	Lockdown    LockdownConfig
	Peripherals PeripheralsConfig

	HistorySize int // Timeline events kept in memory
}

// WindowConfig describes the exam window
type WindowConfig struct {
	Width      int
	Height     int
	Headless   bool
	ChromePath string
}

// IdleConfig holds the idle warning settings
type IdleConfig struct {
	Threshold time.Duration
}

// LockdownConfig holds the focus-loss escalation settings
type LockdownConfig struct {
	MaxBlurCount   int           // Focus losses tolerated with a warning
	TerminateDelay time.Duration // Locked time before the process exits
	ShutdownGrace  time.Duration // Time allowed for cleanup before a forced exit
}

// PeripheralsConfig holds the keyboard detection settings
type PeripheralsConfig struct {
	VendorDenyList  []uint16
	SettleDelay     time.Duration
	WirelessTimeout time.Duration
	SysfsRoot       string
	DevDir          string
}

// HCL parsing structs

type hclConfig struct {
	Verbose     int             `hcl:"verbose,optional"`
	ExamURL     string          `hcl:"exam_url,optional"`
	HistorySize int             `hcl:"history_size,optional"`
	Window      *hclWindow      `hcl:"window,block"`
	Idle        *hclIdle        `hcl:"idle,block"`
	Lockdown    *hclLockdown    `hcl:"lockdown,block"`
	Peripherals *hclPeripherals `hcl:"peripherals,block"`
}

type hclWindow struct {
	Width      int    `hcl:"width,optional"`
	Height     int    `hcl:"height,optional"`
	Headless   bool   `hcl:"headless,optional"`
	ChromePath string `hcl:"chrome_path,optional"`
}

type hclIdle struct {
	Threshold string `hcl:"threshold,optional"`
}

type hclLockdown struct {
	MaxBlurCount   *int   `hcl:"max_blur_count,optional"`
	TerminateDelay string `hcl:"terminate_delay,optional"`
	ShutdownGrace  string `hcl:"shutdown_grace,optional"`
}

type hclPeripherals struct {
	VendorDenyList  *[]string `hcl:"vendor_deny_list,optional"`
	SettleDelay     string    `hcl:"settle_delay,optional"`
	WirelessTimeout string    `hcl:"wireless_timeout,optional"`
	SysfsRoot       string    `hcl:"sysfs_root,optional"`
	DevDir          string    `hcl:"dev_dir,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration
// with defaults applied for everything the file leaves out
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = hclCfg.Verbose
	if hclCfg.ExamURL != "" {
		cfg.ExamURL = hclCfg.ExamURL
	}
	if hclCfg.HistorySize != 0 {
		cfg.HistorySize = hclCfg.HistorySize
	}

	if w := hclCfg.Window; w != nil {
		if w.Width != 0 {
			cfg.Window.Width = w.Width
		}
		if w.Height != 0 {
			cfg.Window.Height = w.Height
		}
		cfg.Window.Headless = w.Headless
		cfg.Window.ChromePath = w.ChromePath
	}

	if i := hclCfg.Idle; i != nil {
		if err := parseDuration(i.Threshold, "idle.threshold", &cfg.Idle.Threshold); err != nil {
			return nil, err
		}
	}

	if l := hclCfg.Lockdown; l != nil {
		if l.MaxBlurCount != nil {
			cfg.Lockdown.MaxBlurCount = *l.MaxBlurCount
		}
		if err := parseDuration(l.TerminateDelay, "lockdown.terminate_delay", &cfg.Lockdown.TerminateDelay); err != nil {
			return nil, err
		}
		if err := parseDuration(l.ShutdownGrace, "lockdown.shutdown_grace", &cfg.Lockdown.ShutdownGrace); err != nil {
			return nil, err
		}
	}

	if p := hclCfg.Peripherals; p != nil {
		if p.VendorDenyList != nil {
			ids, err := parseVendorIDs(*p.VendorDenyList)
			if err != nil {
				return nil, err
			}
			cfg.Peripherals.VendorDenyList = ids
		}
		if err := parseDuration(p.SettleDelay, "peripherals.settle_delay", &cfg.Peripherals.SettleDelay); err != nil {
			return nil, err
		}
		if err := parseDuration(p.WirelessTimeout, "peripherals.wireless_timeout", &cfg.Peripherals.WirelessTimeout); err != nil {
			return nil, err
		}
		if p.SysfsRoot != "" {
			cfg.Peripherals.SysfsRoot = p.SysfsRoot
		}
		if p.DevDir != "" {
			cfg.Peripherals.DevDir = p.DevDir
		}
	}

	return cfg, nil
}

// parseDuration leaves dst untouched when value is empty
func parseDuration(value, key string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = d
	return nil
}

// parseVendorIDs accepts USB vendor IDs written as hex, with or without 0x
func parseVendorIDs(values []string) ([]uint16, error) {
	ids := make([]uint16, 0, len(values))
	for _, v := range values {
		s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "0x")
		id, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid vendor ID %q in peripherals.vendor_deny_list", v)
		}
		ids = append(ids, uint16(id))
	}
	return ids, nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Window: WindowConfig{
			Width:  1280,
			Height: 800,
		},
		Idle: IdleConfig{
			Threshold: 60 * time.Second,
		},
		Lockdown: LockdownConfig{
			MaxBlurCount:   3,
			TerminateDelay: 10 * time.Second,
			ShutdownGrace:  5 * time.Second,
		},
		Peripherals: PeripheralsConfig{
			VendorDenyList:  []uint16{0x05ac, 0x413c},
			SettleDelay:     time.Second,
			WirelessTimeout: 5 * time.Second,
		},
		HistorySize: 256,
	}
}

// LoadOrDefault loads filename if it exists and returns the defaults if not
func LoadOrDefault(filename string) (*Configuration, error) {
	if !ConfigExists(filename) {
		return GetDefaultConfig(), nil
	}
	return LoadConfig(filename)
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// Validate rejects settings that would make a detector fire always or never
func (c *Configuration) Validate() error {
	var errs []error
	if c.Idle.Threshold < time.Second {
		errs = append(errs, fmt.Errorf("idle.threshold must be at least 1s, got %s", c.Idle.Threshold))
	} else if c.Idle.Threshold%time.Second != 0 {
		errs = append(errs, fmt.Errorf("idle.threshold must be a whole number of seconds, got %s", c.Idle.Threshold))
	}
	if c.Lockdown.MaxBlurCount < 0 {
		errs = append(errs, fmt.Errorf("lockdown.max_blur_count must not be negative, got %d", c.Lockdown.MaxBlurCount))
	}
	if c.Lockdown.TerminateDelay <= 0 {
		errs = append(errs, fmt.Errorf("lockdown.terminate_delay must be positive, got %s", c.Lockdown.TerminateDelay))
	}
	if c.Peripherals.WirelessTimeout <= 0 {
		errs = append(errs, fmt.Errorf("peripherals.wireless_timeout must be positive, got %s", c.Peripherals.WirelessTimeout))
	}
	if c.Peripherals.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("peripherals.settle_delay must not be negative, got %s", c.Peripherals.SettleDelay))
	}
	if c.Window.Width < 0 || c.Window.Height < 0 {
		errs = append(errs, fmt.Errorf("window size must not be negative, got %dx%d", c.Window.Width, c.Window.Height))
	}
	return errors.Join(errs...)
}

// MonitorConfig converts the configuration into detector settings
func (c *Configuration) MonitorConfig(logger *slog.Logger) integrity.MonitorConfig {
	return integrity.MonitorConfig{
		IdleThreshold:  c.Idle.Threshold,
		MaxBlurCount:   c.Lockdown.MaxBlurCount,
		TerminateDelay: c.Lockdown.TerminateDelay,
		Peripheral: integrity.PeripheralConfig{
			VendorDenyList:  c.Peripherals.VendorDenyList,
			SettleDelay:     c.Peripherals.SettleDelay,
			WirelessTimeout: c.Peripherals.WirelessTimeout,
		},
		HistorySize: c.HistorySize,
		Logger:      logger,
	}
}
