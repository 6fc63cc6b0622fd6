package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1.0.0")

	v.SetDefault("provider.name", "openai-compat")
	v.SetDefault("provider.endpoint", "http://127.0.0.1:11434/v1")
	v.SetDefault("provider.model", "llama3.1")
	v.SetDefault("provider.timeout", "2m")

	v.SetDefault("engine.max_parallel_phases", 2)
	v.SetDefault("engine.fanout_min_phases", 2)
	v.SetDefault("engine.fanout_profile", "specialist")
	v.SetDefault("engine.auto_title", true)

	v.SetDefault("planner.temperature", 0.2)
	v.SetDefault("planner.max_tokens", 2048)
	v.SetDefault("planner.case_top_k", 3)
	v.SetDefault("planner.case_min_score", 0.15)
	v.SetDefault("planner.history_window", 10)

	v.SetDefault("executor.validation_retries", 2)
	v.SetDefault("executor.execution_retries", 3)
	v.SetDefault("executor.tool_timeout", "60s")
	v.SetDefault("executor.allow_fallback_tool", true)

	v.SetDefault("coordinator.max_depth", 3)
	v.SetDefault("coordinator.max_parallelism", 4)
	v.SetDefault("coordinator.merge_strategy", "concat")

	v.SetDefault("budget.context_tokens", 8192)

	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 7950)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("storage.path", "~/.maestro/maestro.db")

	v.SetDefault("behavior.dir", "~/.maestro/behavior")
	v.SetDefault("behavior.watch", true)

	v.SetDefault("tools.script_dir", "~/.maestro/tools")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.prune_schedule", "0 3 * * *")
	v.SetDefault("maintenance.retention_days", 90)
	v.SetDefault("maintenance.reprice_schedule", "30 3 * * 0")

	v.SetDefault("pricing.path", "~/.maestro/pricing.yaml")
}
