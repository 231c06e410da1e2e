package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PipelineConfig carries the operational rules of the ingestion pipeline.
// It is read from pipeline.yml and hot reloaded.
type PipelineConfig struct {
	Upload        UploadRules        `mapstructure:"upload"`
	Staleness     StalenessRules     `mapstructure:"staleness"`
	Anonymization AnonymizationRules `mapstructure:"anonymization"`
	Scenarios     ScenarioRules      `mapstructure:"scenarios"`
	Recovery      RecoveryRules      `mapstructure:"recovery"`
	Earnings      EarningsRules      `mapstructure:"earnings"`
}

type UploadRules struct {
	MaxSizeBytes        int64    `mapstructure:"max_size_bytes"`
	MaxFilenameLength   int      `mapstructure:"max_filename_length"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
	AllowedExtensions   []string `mapstructure:"allowed_extensions"`
}

// StalenessRules holds the time a submission may sit in a state before it
// is reported as stuck.
type StalenessRules struct {
	Pending     time.Duration `mapstructure:"pending"`
	Uploading   time.Duration `mapstructure:"uploading"`
	Processing  time.Duration `mapstructure:"processing"`
	Ready       time.Duration `mapstructure:"ready"`
	Anonymizing time.Duration `mapstructure:"anonymizing"`
	// UploadLink is the lazy check applied on status reads to uploads
	// that never got an asset linked.
	UploadLink time.Duration `mapstructure:"upload_link"`
}

type AnonymizationRules struct {
	// Required turns a failed kickoff into a failed submission instead of
	// completing without anonymization.
	Required       bool          `mapstructure:"required"`
	KickoffTimeout time.Duration `mapstructure:"kickoff_timeout"`
}

// ScenarioRules bounds extraction. Videos longer than MaxDuration are not
// scanned.
type ScenarioRules struct {
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

type RecoveryRules struct {
	ItemDelay time.Duration `mapstructure:"item_delay"`
	BatchSize int           `mapstructure:"batch_size"`
}

type EarningsTier struct {
	Name          string  `mapstructure:"name" json:"name"`
	MinCompleted  int     `mapstructure:"min_completed" json:"min_completed"`
	RatePerMinute float64 `mapstructure:"rate_per_minute" json:"rate_per_minute"`
}

type EarningsRules struct {
	Currency string         `mapstructure:"currency"`
	Tiers    []EarningsTier `mapstructure:"tiers"`

	QualityHighThreshold float64 `mapstructure:"quality_high_threshold"`
	QualityHighBonus     float64 `mapstructure:"quality_high_bonus"`
	QualityMidThreshold  float64 `mapstructure:"quality_mid_threshold"`
	QualityMidBonus      float64 `mapstructure:"quality_mid_bonus"`

	DensityThreshold     float64 `mapstructure:"density_threshold"`
	DensityRatePerMinute float64 `mapstructure:"density_rate_per_minute"`

	LongFormMinutes       float64 `mapstructure:"long_form_minutes"`
	LongFormRatePerMinute float64 `mapstructure:"long_form_rate_per_minute"`

	ConditionsRatePerMinute float64 `mapstructure:"conditions_rate_per_minute"`
	RateCapPerMinute        float64 `mapstructure:"rate_cap_per_minute"`

	Bounties             map[string]float64 `mapstructure:"bounties"`
	BountyFullConfidence float64            `mapstructure:"bounty_full_confidence"`
	BountyHalfConfidence float64            `mapstructure:"bounty_half_confidence"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Upload: UploadRules{
			MaxSizeBytes:      5 << 30,
			MaxFilenameLength: 255,
			AllowedContentTypes: []string{
				"video/mp4",
				"video/quicktime",
				"video/x-msvideo",
				"video/x-matroska",
				"video/webm",
			},
			AllowedExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".webm"},
		},
		Staleness: StalenessRules{
			Pending:     30 * time.Minute,
			Uploading:   5 * time.Minute,
			Processing:  30 * time.Minute,
			Ready:       30 * time.Minute,
			Anonymizing: 30 * time.Minute,
			UploadLink:  5 * time.Minute,
		},
		Anonymization: AnonymizationRules{
			Required:       false,
			KickoffTimeout: 20 * time.Second,
		},
		Scenarios: ScenarioRules{
			MaxDuration: 12 * time.Hour,
		},
		Recovery: RecoveryRules{
			ItemDelay: 250 * time.Millisecond,
			BatchSize: 50,
		},
		Earnings: EarningsRules{
			Currency: "USD",
			Tiers: []EarningsTier{
				{Name: "rookie", MinCompleted: 0, RatePerMinute: 0.10},
				{Name: "regular", MinCompleted: 10, RatePerMinute: 0.12},
				{Name: "pro", MinCompleted: 50, RatePerMinute: 0.15},
				{Name: "elite", MinCompleted: 200, RatePerMinute: 0.20},
			},
			QualityHighThreshold:    0.8,
			QualityHighBonus:        0.25,
			QualityMidThreshold:     0.6,
			QualityMidBonus:         0.10,
			DensityThreshold:        2.0,
			DensityRatePerMinute:    0.03,
			LongFormMinutes:         30,
			LongFormRatePerMinute:   0.02,
			ConditionsRatePerMinute: 0.05,
			RateCapPerMinute:        0.50,
			Bounties: map[string]float64{
				"emergency_vehicle":  5.00,
				"near_miss":          3.00,
				"wildlife_crossing":  2.00,
				"pedestrian_jaywalk": 2.00,
				"road_debris":        1.50,
			},
			BountyFullConfidence: 0.8,
			BountyHalfConfidence: 0.6,
		},
	}
}

// PipelineConfigHolder serves the latest valid PipelineConfig.
type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfigHolder returns a holder that never reloads.
func NewStaticPipelineConfigHolder(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPipelineConfigHolder() (*PipelineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pipeline")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/dashvault/config")
	v.AddConfigPath("/etc/dashvault")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DASHVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultPipelineConfig()
	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}
	if found {
		if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
			return nil, err
		}
	}
	if err := ValidatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPipelineConfigHolder(cfg)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPipelineConfig()
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Printf("[pipeline-config] reload failed: %v", err)
			return
		}
		if err := ValidatePipelineConfig(updated); err != nil {
			log.Printf("[pipeline-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pipeline-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	if h == nil {
		return DefaultPipelineConfig()
	}
	return h.current.Load().(PipelineConfig)
}

func ValidatePipelineConfig(cfg PipelineConfig) error {
	if cfg.Upload.MaxSizeBytes <= 0 {
		return errors.New("pipeline.upload.max_size_bytes must be positive")
	}
	if len(cfg.Upload.AllowedContentTypes) == 0 {
		return errors.New("pipeline.upload.allowed_content_types cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"pending":     cfg.Staleness.Pending,
		"uploading":   cfg.Staleness.Uploading,
		"processing":  cfg.Staleness.Processing,
		"ready":       cfg.Staleness.Ready,
		"anonymizing": cfg.Staleness.Anonymizing,
		"upload_link": cfg.Staleness.UploadLink,
	} {
		if d <= 0 {
			return fmt.Errorf("pipeline.staleness.%s must be positive", name)
		}
	}
	if cfg.Scenarios.MaxDuration <= 0 {
		return errors.New("pipeline.scenarios.max_duration must be positive")
	}
	if len(cfg.Earnings.Tiers) == 0 {
		return errors.New("pipeline.earnings.tiers cannot be empty")
	}
	if cfg.Earnings.Tiers[0].MinCompleted != 0 {
		return errors.New("pipeline.earnings.tiers must start at min_completed 0")
	}
	for i := 1; i < len(cfg.Earnings.Tiers); i++ {
		if cfg.Earnings.Tiers[i].MinCompleted <= cfg.Earnings.Tiers[i-1].MinCompleted {
			return errors.New("pipeline.earnings.tiers must be sorted by min_completed")
		}
	}
	if cfg.Earnings.RateCapPerMinute <= 0 {
		return errors.New("pipeline.earnings.rate_cap_per_minute must be positive")
	}
	return nil
}
