package database

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), gormConfig())
}

// buildPostgresDSN renders a keyword/value DSN. Unknown keys such as
// lock_timeout are sent to the server as runtime parameters.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	params := []string{
		"host=" + withDefault(cfg.Host, "localhost"),
		"port=" + strconv.Itoa(withDefaultPort(cfg.Port, 5432)),
		"user=" + cfg.User,
		"dbname=" + cfg.Name,
	}
	if cfg.Password != "" {
		params = append(params, "password="+cfg.Password)
	}

	defaults := map[string]string{
		"sslmode":          "disable",
		"TimeZone":         "UTC",
		"application_name": "quorum",
	}
	if cfg.LockTimeout > 0 {
		defaults["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}
	params = append(params, mergeOptions(defaults, cfg.Options)...)
	return strings.Join(params, " "), nil
}

// buildMySQLDSN renders a go-sql-driver DSN. Unknown keys such as
// innodb_lock_wait_timeout are applied as session variables.
func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	user := cfg.User
	if cfg.Password != "" {
		user = cfg.User + ":" + cfg.Password
	}

	defaults := map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "UTC",
	}
	if cfg.LockTimeout > 0 {
		defaults["innodb_lock_wait_timeout"] = strconv.Itoa(lockWaitSeconds(cfg.LockTimeout))
	}

	host := withDefault(cfg.Host, "127.0.0.1")
	port := withDefaultPort(cfg.Port, 3306)
	query := strings.Join(mergeOptions(defaults, cfg.Options), "&")
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, host, port, cfg.Name, query), nil
}

// mergeOptions overlays overrides on defaults and returns key=value pairs in key order.
func mergeOptions(defaults, overrides map[string]string) []string {
	merged := maps.Clone(defaults)
	maps.Copy(merged, overrides)

	pairs := make([]string, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		pairs = append(pairs, key+"="+merged[key])
	}
	return pairs
}

// lockWaitSeconds rounds up; InnoDB accepts whole seconds only.
func lockWaitSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	return max(seconds, 1)
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func withDefaultPort(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}
