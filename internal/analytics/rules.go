package analytics

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Thresholds are the weighted-average floors below which alerts fire, and the
// lower floors below which severity escalates to critical.
type Thresholds struct {
	LowBikes        float64
	LowAnchors      float64
	CriticalBikes   float64
	CriticalAnchors float64
}

// DefaultThresholds returns the built-in alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowBikes:        5,
		LowAnchors:      3,
		CriticalBikes:   2,
		CriticalAnchors: 2,
	}
}

// rawThresholdRule is the on-disk YAML shape: one rule per file.
type rawThresholdRule struct {
	AlertType     string   `yaml:"alert_type"`
	Threshold     *float64 `yaml:"threshold"`
	CriticalBelow *float64 `yaml:"critical_below"`
}

// LoadThresholdRules overlays threshold rule files from dir onto the defaults.
// Rules are loaded once at startup; each file is fingerprinted so a changed
// rule is visible in startup logs. A missing directory means zero overrides.
func LoadThresholdRules(dir string) (Thresholds, error) {
	th := DefaultThresholds()

	if dir == "" {
		return th, nil
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return th, nil
	}
	if err != nil {
		return th, fmt.Errorf("threshold rule dir: %w", err)
	}
	if !info.IsDir() {
		return th, fmt.Errorf("threshold rule path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return th, fmt.Errorf("reading threshold rule dir: %w", err)
	}

	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return th, fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var raw rawThresholdRule
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return th, fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if raw.AlertType == "" {
			continue // comment-only file
		}

		if prev, dup := seen[raw.AlertType]; dup {
			return th, fmt.Errorf("rule file %s: duplicate alert_type %q (already defined in %s)", path, raw.AlertType, prev)
		}
		seen[raw.AlertType] = e.Name()

		switch AlertType(raw.AlertType) {
		case AlertLowBikes:
			applyRule(&th.LowBikes, &th.CriticalBikes, raw)
		case AlertLowAnchors:
			applyRule(&th.LowAnchors, &th.CriticalAnchors, raw)
		default:
			return th, fmt.Errorf("rule file %s: unknown alert_type %q", path, raw.AlertType)
		}

		slog.Info("[Thresholds] Loaded rule override",
			"alert_type", raw.AlertType,
			"file", e.Name(),
			"fingerprint", fmt.Sprintf("%x", sha256.Sum256(data))[:12],
		)
	}

	if err := th.validate(); err != nil {
		return th, err
	}
	return th, nil
}

func applyRule(threshold, critical *float64, raw rawThresholdRule) {
	if raw.Threshold != nil {
		*threshold = *raw.Threshold
	}
	if raw.CriticalBelow != nil {
		*critical = *raw.CriticalBelow
	}
}

func (t Thresholds) validate() error {
	if t.LowBikes <= 0 || t.LowAnchors <= 0 {
		return fmt.Errorf("alert thresholds must be > 0 (bikes=%v anchors=%v)", t.LowBikes, t.LowAnchors)
	}
	if t.CriticalBikes > t.LowBikes || t.CriticalAnchors > t.LowAnchors {
		return fmt.Errorf("critical thresholds must not exceed alert thresholds")
	}
	return nil
}
