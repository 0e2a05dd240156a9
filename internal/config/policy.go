package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	RateLimitProfileMutations    = "mutations"
	RateLimitProfileInvitePublic = "invites_public"
	RateLimitProfileTools        = "tools"
)

// PolicyConfig holds the operator-tunable limits that can change without a restart.
type PolicyConfig struct {
	RateLimits     map[string]RateLimitProfile `mapstructure:"rateLimits"`
	Tiers          map[string]TierPolicy       `mapstructure:"tiers"`
	InviteTTLHours int                         `mapstructure:"inviteTTLHours"`
}

type RateLimitProfile struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"windowSeconds"`
}

func (p RateLimitProfile) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// TierPolicy describes a subscription tier. MaxMembers of 0 means unlimited.
type TierPolicy struct {
	DisplayName string `mapstructure:"displayName"`
	MaxMembers  int    `mapstructure:"maxMembers"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RateLimits: map[string]RateLimitProfile{
			RateLimitProfileMutations:    {Limit: 10, WindowSeconds: 60},
			RateLimitProfileInvitePublic: {Limit: 30, WindowSeconds: 60},
			RateLimitProfileTools:        {Limit: 5, WindowSeconds: 60},
		},
		Tiers: map[string]TierPolicy{
			"studio":     {DisplayName: "Studio", MaxMembers: 10},
			"enterprise": {DisplayName: "Enterprise", MaxMembers: 0},
		},
		InviteTTLHours: 7 * 24,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("policy.config")

	v := viper.New()
	name := strings.TrimSpace(cfg.Policy.Name)
	if name == "" {
		name = "policy"
	}
	v.SetConfigName(name)
	v.SetConfigType("yml")
	for _, path := range cfg.Policy.Paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("STENCILFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PolicyHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("policy file not found, using defaults")
		holder.current.Store(DefaultPolicyConfig())
		return holder, nil
	}

	loaded, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func decodePolicy(v *viper.Viper) (PolicyConfig, error) {
	cfg := DefaultPolicyConfig()
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return PolicyConfig{}, err
	}
	if err := validatePolicy(cfg); err != nil {
		return PolicyConfig{}, err
	}
	return cfg, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	if h == nil {
		return DefaultPolicyConfig()
	}
	cfg, ok := h.current.Load().(PolicyConfig)
	if !ok {
		return DefaultPolicyConfig()
	}
	return cfg
}

// RateLimit returns the named profile, or false when the profile is unknown.
func (h *PolicyHolder) RateLimit(profile string) (RateLimitProfile, bool) {
	p, ok := h.Get().RateLimits[strings.ToLower(strings.TrimSpace(profile))]
	return p, ok
}

// Tier returns the policy for a tier. Unknown tiers are unlimited.
func (h *PolicyHolder) Tier(name string) TierPolicy {
	p, ok := h.Get().Tiers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TierPolicy{DisplayName: name}
	}
	return p
}

func (h *PolicyHolder) InviteTTL() time.Duration {
	return time.Duration(h.Get().InviteTTLHours) * time.Hour
}

func validatePolicy(cfg PolicyConfig) error {
	for name, profile := range cfg.RateLimits {
		if profile.Limit <= 0 || profile.WindowSeconds <= 0 {
			return fmt.Errorf("policy.rateLimits.%s must have positive limit and windowSeconds", name)
		}
	}
	if len(cfg.Tiers) == 0 {
		return errors.New("policy.tiers cannot be empty")
	}
	for name, tier := range cfg.Tiers {
		if tier.MaxMembers < 0 {
			return fmt.Errorf("policy.tiers.%s.maxMembers cannot be negative", name)
		}
	}
	if cfg.InviteTTLHours <= 0 {
		return errors.New("policy.inviteTTLHours must be positive")
	}
	return nil
}
