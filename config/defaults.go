package config

import "github.com/spf13/viper"

// SetDefaults installs the built-in configuration defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "governor.db")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_seconds", 900) // 15 minutes
	v.SetDefault("scheduler.daily_quota", 5)
	v.SetDefault("scheduler.windows", []string{"09:00-21:00"})
	v.SetDefault("scheduler.evergreen_weight", 70)
	v.SetDefault("scheduler.seasonal_weight", 30)
	v.SetDefault("scheduler.language", "en")
	v.SetDefault("scheduler.dry_run", false)
	v.SetDefault("scheduler.rotation_pool", []string{})

	v.SetDefault("generator.base_url", "http://localhost:8090")
	v.SetDefault("generator.token", "")
	v.SetDefault("generator.timeout_seconds", 120)
	v.SetDefault("generator.max_calls_per_minute", 6)

	v.SetDefault("safety.safe_mode", false)
	v.SetDefault("safety.feature_freeze", false)

	v.SetDefault("ratelimit.bypass_token", "")
	v.SetDefault("ratelimit.scopes.public.window_ms", 60_000)
	v.SetDefault("ratelimit.scopes.public.max_requests", 300)
	v.SetDefault("ratelimit.scopes.admin.window_ms", 60_000)
	v.SetDefault("ratelimit.scopes.admin.max_requests", 60)
	v.SetDefault("ratelimit.scopes.ai.window_ms", 60_000)
	v.SetDefault("ratelimit.scopes.ai.max_requests", 10)
	v.SetDefault("ratelimit.scopes.login.window_ms", 900_000)
	v.SetDefault("ratelimit.scopes.login.max_requests", 5)
}
