// Copyright 2026 The lowmemd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/governor"
	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

const (
	// legacyScoreMax is the top of the legacy [-17, 15] score scale.
	legacyScoreMax = 15
	// legacyScoreDisable is the bottom of the legacy scale; the conversion
	// divisor.
	legacyScoreDisable = 17
)

// Config contains configuration options.
type Config struct {
	// ProcRoot is the proc filesystem mount point.
	ProcRoot string `toml:"proc-root" json:"proc-root"`
	// HelperPath is the external diagnostic helper binary; empty disables
	// diagnostic dispatch.
	HelperPath string `toml:"helper-path" json:"helper-path"`

	Log      Log      `toml:"log" json:"log"`
	Status   Status   `toml:"status" json:"status"`
	Governor Governor `toml:"governor" json:"governor"`
}

// Log is the log section of config.
type Log struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log format, one of json, text, or console.
	Format string `toml:"format" json:"format"`
	// Disable automatic timestamps in output.
	DisableTimestamp bool `toml:"disable-timestamp" json:"disable-timestamp"`
	// File log config.
	File logutil.FileLogConfig `toml:"file" json:"file"`
}

// Status is the status section of the config.
type Status struct {
	ReportStatus bool   `toml:"report-status" json:"report-status"`
	StatusHost   string `toml:"status-host" json:"status-host"`
	StatusPort   int    `toml:"status-port" json:"status-port"`
}

// Governor is the kill-policy section of the config.
type Governor struct {
	// Scores and MinFree form the threshold table: ascending priority-score
	// cutoffs paired with ascending free-memory cutoffs (human sizes, e.g.
	// "16MB"). Both lists must have the same length.
	Scores  []int    `toml:"scores" json:"scores"`
	MinFree []string `toml:"min-free" json:"min-free"`

	// NormalizeLegacyScores converts score tables written on the legacy
	// [-17, 15] scale to the [-1000, 1000] scale.
	NormalizeLegacyScores bool `toml:"normalize-legacy-scores" json:"normalize-legacy-scores"`

	DebugLevel int  `toml:"debug-level" json:"debug-level"`
	FastScan   bool `toml:"fast-scan" json:"fast-scan"`

	EnableAdaptive bool `toml:"enable-adaptive" json:"enable-adaptive"`
	// VMPressureFileMin gates the adaptive path: a pseudo free-file cutoff,
	// normally above the table's most aggressive cutoff. Empty derives a
	// default from the table.
	VMPressureFileMin string `toml:"vmpressure-file-min" json:"vmpressure-file-min"`
	PressureArmLevel  int    `toml:"pressure-arm-level" json:"pressure-arm-level"`
	CapScore          int    `toml:"cap-score" json:"cap-score"`

	// ProtectedNames are never selected while the resolved minimum score is
	// above ProtectScoreFloor.
	ProtectedNames    []string `toml:"protected-names" json:"protected-names"`
	ProtectScoreFloor int      `toml:"protect-score-floor" json:"protect-score-floor"`

	// KillBuckets maps resolved-score floors to victims per invocation,
	// e.g. [[1000, 1], [529, 2]]. Consulted in order, first match wins.
	KillBuckets      [][]int `toml:"kill-buckets" json:"kill-buckets"`
	DefaultMaxKills  int     `toml:"default-max-kills" json:"default-max-kills"`
	AdaptiveMaxKills int     `toml:"adaptive-max-kills" json:"adaptive-max-kills"`

	// AdaptiveMinKill is the size floor below which adaptive invocations
	// refuse to kill (human size).
	AdaptiveMinKill string `toml:"adaptive-min-kill" json:"adaptive-min-kill"`
	// BigProcess triggers the busy-threads diagnostic (human size).
	BigProcess         string `toml:"big-process" json:"big-process"`
	VeryImportantScore int    `toml:"very-important-score" json:"very-important-score"`

	KillCooldown   string `toml:"kill-cooldown" json:"kill-cooldown"`
	NoKillCooldown string `toml:"no-kill-cooldown" json:"no-kill-cooldown"`

	DumpMemInterval      string `toml:"dump-mem-interval" json:"dump-mem-interval"`
	DumpThreadsInterval  string `toml:"dump-threads-interval" json:"dump-threads-interval"`
	CandidateLogScore    int    `toml:"candidate-log-score" json:"candidate-log-score"`
	CandidateLogInterval string `toml:"candidate-log-interval" json:"candidate-log-interval"`

	// TriggerInterval is the reclaim poll period; PressureInterval the PSI
	// poll period.
	TriggerInterval  string `toml:"trigger-interval" json:"trigger-interval"`
	PressureInterval string `toml:"pressure-interval" json:"pressure-interval"`
}

var defaultConf = Config{
	ProcRoot:   "/proc",
	HelperPath: "",
	Log: Log{
		Level:  "info",
		Format: "text",
		File:   logutil.NewFileLogConfig(logutil.DefaultLogMaxSize),
	},
	Status: Status{
		ReportStatus: true,
		StatusHost:   "0.0.0.0",
		StatusPort:   10087,
	},
	Governor: Governor{
		Scores:               []int{0, 1, 6, 12},
		MinFree:              []string{"6MB", "8MB", "16MB", "64MB"},
		DebugLevel:           1,
		FastScan:             true,
		EnableAdaptive:       false,
		PressureArmLevel:     98,
		CapScore:             353,
		ProtectedNames:       nil,
		ProtectScoreFloor:    200,
		KillBuckets:          [][]int{{1000, 1}, {529, 2}, {300, 4}, {117, 5}},
		DefaultMaxKills:      6,
		AdaptiveMaxKills:     2,
		AdaptiveMinKill:      "80MB",
		BigProcess:           "600MB",
		VeryImportantScore:   100,
		KillCooldown:         "1s",
		NoKillCooldown:       "2s",
		DumpMemInterval:      "60s",
		DumpThreadsInterval:  "120s",
		CandidateLogScore:    300,
		CandidateLogInterval: "10s",
		TriggerInterval:      "500ms",
		PressureInterval:     "1s",
	},
}

var globalConf atomic.Pointer[Config]

func init() {
	globalConf.Store(NewConfig())
}

// NewConfig creates a new config instance with default value. Slice fields
// are copied so instances never share backing arrays with the defaults.
func NewConfig() *Config {
	conf := defaultConf
	g := &conf.Governor
	g.Scores = append([]int(nil), g.Scores...)
	g.MinFree = append([]string(nil), g.MinFree...)
	g.ProtectedNames = append([]string(nil), g.ProtectedNames...)
	buckets := make([][]int, 0, len(g.KillBuckets))
	for _, b := range g.KillBuckets {
		buckets = append(buckets, append([]int(nil), b...))
	}
	g.KillBuckets = buckets
	return &conf
}

// GetGlobalConfig returns the global configuration for this server. It
// should store configuration from command line and configuration file.
// Other parts of the system can read the global configuration use this
// function.
func GetGlobalConfig() *Config {
	return globalConf.Load()
}

// StoreGlobalConfig stores a new config to the globalConf.
func StoreGlobalConfig(config *Config) {
	globalConf.Store(config)
}

// Load loads config options from a toml file.
func (c *Config) Load(confFile string) error {
	_, err := toml.DecodeFile(confFile, c)
	return errors.Trace(err)
}

// Valid checks whether the configuration is sane.
func (c *Config) Valid() error {
	g := &c.Governor
	if len(g.Scores) == 0 {
		return errors.New("governor.scores must not be empty")
	}
	if len(g.Scores) != len(g.MinFree) {
		return errors.Errorf("governor.scores and governor.min-free must have the same length, got %d and %d",
			len(g.Scores), len(g.MinFree))
	}
	for i := 1; i < len(g.Scores); i++ {
		if g.Scores[i] < g.Scores[i-1] {
			return errors.Errorf("governor.scores must be ascending, entry %d (%d) is below entry %d (%d)",
				i, g.Scores[i], i-1, g.Scores[i-1])
		}
	}
	for _, b := range g.KillBuckets {
		if len(b) != 2 {
			return errors.Errorf("governor.kill-buckets entries must be [score, kills] pairs, got %v", b)
		}
		if b[1] <= 0 {
			return errors.Errorf("governor.kill-buckets kill count must be positive, got %v", b)
		}
	}
	if g.DefaultMaxKills <= 0 || g.AdaptiveMaxKills <= 0 {
		return errors.New("governor.default-max-kills and governor.adaptive-max-kills must be positive")
	}
	if g.PressureArmLevel < 0 || g.PressureArmLevel > 100 {
		return errors.Errorf("governor.pressure-arm-level must be in [0, 100], got %d", g.PressureArmLevel)
	}
	if _, err := c.GovernorPolicy(); err != nil {
		return err
	}
	return nil
}

func parseSizeKB(field, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	bytes, err := units.RAMInBytes(value)
	if err != nil {
		return 0, errors.Annotatef(err, "parse %s %q", field, value)
	}
	return bytes / 1024, nil
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Annotatef(err, "parse %s %q", field, value)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s must be positive, got %q", field, value)
	}
	return d, nil
}

// normalizeLegacyScores converts a table written on the legacy [-17, 15]
// scale. Conversion is skipped when the table already looks converted (its
// converted last entry would land back inside the legacy range).
func normalizeLegacyScores(scores []int) []int {
	if len(scores) == 0 {
		return scores
	}
	last := scores[len(scores)-1]
	if last > legacyScoreMax {
		return scores
	}
	if convertLegacyScore(last) <= legacyScoreMax {
		return scores
	}
	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = convertLegacyScore(s)
		logutil.BgLogger().Info("converted legacy score",
			zap.Int("legacy", s), zap.Int("score", out[i]))
	}
	return out
}

func convertLegacyScore(legacy int) int {
	if legacy == legacyScoreMax {
		return governor.ScoreMax
	}
	return legacy * governor.ScoreMax / legacyScoreDisable
}

// GovernorPolicy converts the governor section into the parsed policy the
// engine consumes.
func (c *Config) GovernorPolicy() (*governor.Policy, error) {
	g := &c.Governor
	p := governor.DefaultPolicy()

	scores := g.Scores
	if g.NormalizeLegacyScores {
		scores = normalizeLegacyScores(scores)
	}
	table := make(governor.ThresholdTable, 0, len(scores))
	for i, score := range scores {
		minFreeKB, err := parseSizeKB("governor.min-free", g.MinFree[i])
		if err != nil {
			return nil, err
		}
		table = append(table, governor.ThresholdEntry{MinScore: score, MinFreeKB: minFreeKB})
	}
	p.Table = table

	p.EnableAdaptive = g.EnableAdaptive
	p.CapScore = g.CapScore
	p.PressureArmLevel = g.PressureArmLevel
	fileMinKB, err := parseSizeKB("governor.vmpressure-file-min", g.VMPressureFileMin)
	if err != nil {
		return nil, err
	}
	if fileMinKB == 0 {
		// Default above the most aggressive cutoff, as the adaptive gate
		// expects.
		fileMinKB = 2 * table.LastMinFreeKB()
	}
	p.VMPressureFileMinKB = fileMinKB

	p.FastScan = g.FastScan
	p.DebugLevel = g.DebugLevel
	p.Exempt = governor.NewSubstringExemption(g.ProtectedNames)
	p.ProtectScoreFloor = g.ProtectScoreFloor

	buckets := make([]governor.TaskBucket, 0, len(g.KillBuckets))
	for _, b := range g.KillBuckets {
		if len(b) != 2 {
			return nil, errors.Errorf("governor.kill-buckets entries must be [score, kills] pairs, got %v", b)
		}
		buckets = append(buckets, governor.TaskBucket{MinScore: b[0], MaxTasks: b[1]})
	}
	p.TaskBuckets = buckets
	p.DefaultMaxTasks = g.DefaultMaxKills
	p.AdaptiveMaxTasks = g.AdaptiveMaxKills

	if p.AdaptiveMinKillKB, err = parseSizeKB("governor.adaptive-min-kill", g.AdaptiveMinKill); err != nil {
		return nil, err
	}
	if p.BigProcessKB, err = parseSizeKB("governor.big-process", g.BigProcess); err != nil {
		return nil, err
	}
	p.VeryImportantScore = g.VeryImportantScore

	if p.KillCooldownBase, err = parseDuration("governor.kill-cooldown", g.KillCooldown, time.Second); err != nil {
		return nil, err
	}
	if p.NoKillCooldown, err = parseDuration("governor.no-kill-cooldown", g.NoKillCooldown, 2*time.Second); err != nil {
		return nil, err
	}
	if p.DumpMemInterval, err = parseDuration("governor.dump-mem-interval", g.DumpMemInterval, 60*time.Second); err != nil {
		return nil, err
	}
	if p.DumpThreadsInterval, err = parseDuration("governor.dump-threads-interval", g.DumpThreadsInterval, 120*time.Second); err != nil {
		return nil, err
	}
	p.CandidateLogScore = g.CandidateLogScore
	if p.CandidateLogInterval, err = parseDuration("governor.candidate-log-interval", g.CandidateLogInterval, 10*time.Second); err != nil {
		return nil, err
	}
	return p, nil
}

// TriggerInterval returns the reclaim poll period.
func (c *Config) TriggerInterval() (time.Duration, error) {
	return parseDuration("governor.trigger-interval", c.Governor.TriggerInterval, 500*time.Millisecond)
}

// PressureInterval returns the PSI poll period.
func (c *Config) PressureInterval() (time.Duration, error) {
	return parseDuration("governor.pressure-interval", c.Governor.PressureInterval, time.Second)
}
