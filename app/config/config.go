package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unit-linkage/internal/matcher"
	"github.com/unit-linkage/internal/normalizer"
	"github.com/unit-linkage/internal/prefilter"
)

// BatchCfg điều khiển vòng lặp của batch task engine.
type BatchCfg struct {
	BatchSize           int `yaml:"batch_size" json:"batch_size"`
	WorkersPerPage      int `yaml:"workers_per_page" json:"workers_per_page"`
	PerRecordDeadlineMs int `yaml:"per_record_deadline_ms" json:"per_record_deadline_ms"`
	TaskDeadlineMinutes int `yaml:"task_deadline_minutes" json:"task_deadline_minutes"`
}

// PrefilterCfg giới hạn của candidate prefilter.
type PrefilterCfg struct {
	CandidateCapK    int `yaml:"candidate_cap_k" json:"candidate_cap_k"`
	TextSearchLimitT int `yaml:"text_search_limit_t" json:"text_search_limit_t"`
	AddressCap       int `yaml:"address_cap" json:"address_cap"`
}

// EngineCfg is the tuning file for one matching task. Thresholds are read
// once at task start and held for the task's lifetime, so one run decides
// against a single surface.
type EngineCfg struct {
	Matcher    matcher.Config             `yaml:"matcher" json:"matcher"`
	Batch      BatchCfg                   `yaml:"batch" json:"batch"`
	Prefilter  PrefilterCfg               `yaml:"prefilter" json:"prefilter"`
	Normalizer *normalizer.NormalizerRules `yaml:"normalizer,omitempty" json:"normalizer,omitempty"`
}

var C EngineCfg

// Load reads the tuning yaml into the package-level config. Missing file is
// not an error: defaults apply.
func Load(path string) error {
	C = Defaults()
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(b, &C)
}

// Defaults trả về cấu hình mặc định của engine.
func Defaults() EngineCfg {
	return EngineCfg{
		Matcher: matcher.DefaultConfig(),
		Batch: BatchCfg{
			BatchSize:           100,
			WorkersPerPage:      4,
			PerRecordDeadlineMs: 2000,
			TaskDeadlineMinutes: 0, // no global deadline unless configured
		},
		Prefilter: PrefilterCfg{
			CandidateCapK:    100,
			TextSearchLimitT: 50,
			AddressCap:       30,
		},
	}
}

// PerRecordDeadline soft deadline cho một lần match.
func (c BatchCfg) PerRecordDeadline() time.Duration {
	if c.PerRecordDeadlineMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.PerRecordDeadlineMs) * time.Millisecond
}

// TaskDeadline global deadline cho cả task; zero nghĩa là không giới hạn.
func (c BatchCfg) TaskDeadline() time.Duration {
	if c.TaskDeadlineMinutes <= 0 {
		return 0
	}
	return time.Duration(c.TaskDeadlineMinutes) * time.Minute
}

// PrefilterConfig chuyển sang cấu hình của internal/prefilter.
func (c PrefilterCfg) PrefilterConfig() prefilter.Config {
	cfg := prefilter.DefaultConfig()
	if c.CandidateCapK > 0 {
		cfg.CandidateCap = c.CandidateCapK
	}
	if c.TextSearchLimitT > 0 {
		cfg.TextSearchLimit = c.TextSearchLimitT
	}
	if c.AddressCap > 0 {
		cfg.AddressCap = c.AddressCap
	}
	return cfg
}

// NormalizerRules returns the configured dictionaries, falling back to the
// built-in ones.
func (c EngineCfg) NormalizerRules() normalizer.NormalizerRules {
	if c.Normalizer != nil {
		return *c.Normalizer
	}
	return normalizer.DefaultRules()
}
