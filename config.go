package recaptcha

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/libops/recaptcha-widget/internal/helper"
)

// Version selects the token-retrieval protocol.
type Version string

const (
	// VersionInteractive renders a widget the user completes.
	VersionInteractive Version = "v2"
	// VersionScored executes silently and scores an action.
	VersionScored Version = "v3"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type ChallengeType string

const (
	TypeImage ChallengeType = "image"
	TypeAudio ChallengeType = "audio"
)

type Size string

const (
	SizeNormal  Size = "normal"
	SizeCompact Size = "compact"
	// SizeInvisible never renders a widget.
	SizeInvisible Size = "invisible"
)

type Badge string

const (
	BadgeBottomRight Badge = "bottomright"
	BadgeBottomLeft  Badge = "bottomleft"
	BadgeInline      Badge = "inline"
)

// EnvPrefix prefixes every variable read by ParseEnv.
const EnvPrefix = "RECAPTCHA_"

// reCAPTCHA only accepts alphanumerics, slashes and underscores in action names.
var actionPattern = regexp.MustCompile(`^[A-Za-z0-9_/]+$`)

type Config struct {
	SiteKey  string  `json:"siteKey" yaml:"siteKey" env:"SITE_KEY"`
	Version  Version `json:"version" yaml:"version" env:"VERSION"`
	Provider string  `json:"provider" yaml:"provider" env:"PROVIDER"`

	// interactive
	Theme    Theme         `json:"theme" yaml:"theme" env:"THEME"`
	Type     ChallengeType `json:"type" yaml:"type" env:"TYPE"`
	Size     Size          `json:"size" yaml:"size" env:"SIZE"`
	TabIndex int           `json:"tabindex" yaml:"tabindex" env:"TABINDEX"`
	Badge    Badge         `json:"badge" yaml:"badge" env:"BADGE"`
	Isolated bool          `json:"isolated" yaml:"isolated" env:"ISOLATED"`

	// scored
	Action      string `json:"action" yaml:"action" env:"ACTION"`
	AutoExecute bool   `json:"autoExecute" yaml:"autoExecute" env:"AUTO_EXECUTE"`

	Language  string            `json:"hl" yaml:"hl" env:"LANGUAGE"`
	ClassName string            `json:"className,omitempty" yaml:"className,omitempty" env:"CLASS_NAME"`
	Style     map[string]string `json:"style,omitempty" yaml:"style,omitempty" env:"STYLE"`
	LogLevel  string            `json:"loglevel,omitempty" yaml:"loglevel,omitempty" env:"LOG_LEVEL"`
}

func CreateConfig() *Config {
	return &Config{
		Version:  VersionInteractive,
		Provider: "recaptcha",
		Theme:    ThemeLight,
		Type:     TypeImage,
		Size:     SizeNormal,
		Badge:    BadgeBottomRight,
		Action:   "submit",
		Language: "en",
		Style:    map[string]string{},
		LogLevel: "INFO",
	}
}

// LoadConfig reads a YAML (or JSON) file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	config := CreateConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// ConfigFromEnv reads RECAPTCHA_* variables over the defaults.
func ConfigFromEnv() (*Config, error) {
	config := CreateConfig()
	if err := ParseEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseEnv overlays RECAPTCHA_* variables onto config. Unset variables leave
// fields untouched.
func ParseEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks config and canonicalizes its language tag.
func (c *Config) Validate() error {
	if c.SiteKey == "" {
		return errors.New("you must set a siteKey")
	}

	p, err := helper.LookupProvider(c.Provider)
	if err != nil {
		return err
	}

	switch c.Version {
	case VersionScored:
		if !p.Scored {
			return fmt.Errorf("provider %s does not support version %s", c.Provider, c.Version)
		}
		if !actionPattern.MatchString(c.Action) {
			return fmt.Errorf("invalid action %q. Actions may only contain alphanumeric characters, slashes, and underscores", c.Action)
		}
	case VersionInteractive:
		if c.AutoExecute {
			return fmt.Errorf("autoExecute requires version %s", VersionScored)
		}
		if err := c.validateWidget(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown version: %s. Supported values are %s and %s", c.Version, VersionInteractive, VersionScored)
	}

	if c.Language != "" {
		tag, err := language.Parse(c.Language)
		if err != nil {
			return fmt.Errorf("invalid language %q: %w", c.Language, err)
		}
		c.Language = tag.String()
	}

	return nil
}

func (c *Config) validateWidget() error {
	switch c.Theme {
	case ThemeLight, ThemeDark:
	default:
		return fmt.Errorf("unknown theme: %s", c.Theme)
	}
	switch c.Type {
	case TypeImage, TypeAudio:
	default:
		return fmt.Errorf("unknown type: %s", c.Type)
	}
	switch c.Size {
	case SizeNormal, SizeCompact, SizeInvisible:
	default:
		return fmt.Errorf("unknown size: %s", c.Size)
	}
	switch c.Badge {
	case BadgeBottomRight, BadgeBottomLeft, BadgeInline:
	default:
		return fmt.Errorf("unknown badge: %s", c.Badge)
	}
	return nil
}

// Visible reports whether the configuration renders a widget.
func (c *Config) Visible() bool {
	return c.Version == VersionInteractive && c.Size != SizeInvisible
}

func (c Config) clone() Config {
	c.Style = maps.Clone(c.Style)
	return c
}
