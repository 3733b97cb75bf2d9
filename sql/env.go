package sql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix namespaces the environment variables, e.g. SQLTAP_ENABLED.
const envPrefix = "SQLTAP"

// ConfigFromEnv builds a Config from SQLTAP_* environment variables, with
// DefaultConfig values for unset ones.
//
// Recognized variables:
//
//	SQLTAP_ENABLED                 bool
//	SQLTAP_SLOW_QUERY_THRESHOLD_MS int, milliseconds
//	SQLTAP_LOG_EVERY_QUERY         bool
//	SQLTAP_LOG_PARAMS              bool
//	SQLTAP_TOP_N                   int
//	SQLTAP_SAMPLE_SIZE             int
//	SQLTAP_MAX_FINGERPRINTS        int
//	SQLTAP_SLOW_EXPLAIN            bool
//	SQLTAP_LOG_FILE_PATH           string
//	SQLTAP_ROTATE_BYTES            int
//	SQLTAP_RETAIN_COUNT            int
//	SQLTAP_SNAPSHOT_INTERVAL_MS    int, milliseconds
//	SQLTAP_HISTOGRAM_BOUNDS_MS     comma-separated floats
//	SQLTAP_AUDIT_QUEUE_SIZE        int
//	SQLTAP_MAX_SQL_LENGTH          int
//
// A variable that is set but does not parse is an error, never a silent
// fallback to the default.
//
// Example:
//
//	cfg, err := tapsql.ConfigFromEnv()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("bad SQLTAP_* environment")
//	}
//	db, err := tapsql.Open("mysql", dsn, tapsql.WithConfig(cfg))
func ConfigFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("enabled", def.Enabled)
	v.SetDefault("slow_query_threshold_ms", int64(def.SlowQueryThreshold/time.Millisecond))
	v.SetDefault("log_every_query", def.LogEveryQuery)
	v.SetDefault("log_params", def.LogParams)
	v.SetDefault("top_n", def.TopN)
	v.SetDefault("sample_size", def.SampleSize)
	v.SetDefault("max_fingerprints", def.MaxFingerprints)
	v.SetDefault("slow_explain", def.SlowExplain)
	v.SetDefault("log_file_path", def.LogFilePath)
	v.SetDefault("rotate_bytes", def.RotateBytes)
	v.SetDefault("retain_count", def.RetainCount)
	v.SetDefault("snapshot_interval_ms", int64(def.SnapshotInterval/time.Millisecond))
	v.SetDefault("histogram_bounds_ms", joinBoundsMS(def.HistogramBoundsMS))
	v.SetDefault("audit_queue_size", def.AuditQueueSize)
	v.SetDefault("max_sql_length", def.MaxSQLLength)

	var cfg Config
	var err error

	if cfg.Enabled, err = envBool(v, "enabled"); err != nil {
		return Config{}, err
	}
	if cfg.SlowQueryThreshold, err = envDurationMS(v, "slow_query_threshold_ms"); err != nil {
		return Config{}, err
	}
	if cfg.LogEveryQuery, err = envBool(v, "log_every_query"); err != nil {
		return Config{}, err
	}
	if cfg.LogParams, err = envBool(v, "log_params"); err != nil {
		return Config{}, err
	}
	if cfg.TopN, err = envInt(v, "top_n"); err != nil {
		return Config{}, err
	}
	if cfg.SampleSize, err = envInt(v, "sample_size"); err != nil {
		return Config{}, err
	}
	if cfg.MaxFingerprints, err = envInt(v, "max_fingerprints"); err != nil {
		return Config{}, err
	}
	if cfg.SlowExplain, err = envBool(v, "slow_explain"); err != nil {
		return Config{}, err
	}
	cfg.LogFilePath = v.GetString("log_file_path")
	if cfg.RotateBytes, err = envInt64(v, "rotate_bytes"); err != nil {
		return Config{}, err
	}
	if cfg.RetainCount, err = envInt(v, "retain_count"); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotInterval, err = envDurationMS(v, "snapshot_interval_ms"); err != nil {
		return Config{}, err
	}
	if cfg.HistogramBoundsMS, err = envBoundsMS(v, "histogram_bounds_ms"); err != nil {
		return Config{}, err
	}
	if cfg.AuditQueueSize, err = envInt(v, "audit_queue_size"); err != nil {
		return Config{}, err
	}
	if cfg.MaxSQLLength, err = envInt(v, "max_sql_length"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envBool(v *viper.Viper, key string) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, envErr(key, raw, "a boolean")
	}
	return b, nil
}

func envInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, envErr(key, raw, "an integer")
	}
	return n, nil
}

func envInt64(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, envErr(key, raw, "an integer")
	}
	return n, nil
}

func envDurationMS(v *viper.Viper, key string) (time.Duration, error) {
	n, err := envInt64(v, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func envBoundsMS(v *viper.Viper, key string) ([]float64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	parts := strings.Split(raw, ",")
	bounds := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, envErr(key, raw, "comma-separated numbers")
		}
		bounds = append(bounds, f)
	}
	return bounds, nil
}

func envErr(key, raw, want string) error {
	return fmt.Errorf("%w: %s_%s must be %s, got %q",
		ErrInvalidConfig, envPrefix, strings.ToUpper(key), want, raw)
}

func joinBoundsMS(bounds []float64) string {
	parts := make([]string, len(bounds))
	for i, b := range bounds {
		parts[i] = strconv.FormatFloat(b, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
