package config

import "github.com/knadh/koanf/v2"

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"worker.max_workers":       2,
		"worker.queue_depth":       0,
		"worker.poll_interval":     "5s",
		"worker.shutdown_timeout":  "30s",
		"worker.event_claim_rate":  10.0,
		"worker.event_claim_burst": 5,
		"worker.stuck_after":       "1h",

		"store.driver": "sqlite",
		"store.dsn":    "mediaflow.db",

		"broker.driver":         "none",
		"broker.group":          "mediaflow",
		"broker.block":          "5s",
		"broker.claim_idle":     "1m",
		"broker.max_len":        10000,
		"broker.max_deliveries": 10,

		"artifacts.driver": "dir",
		"artifacts.dir":    "/data/media",

		"whisper.model":   "whisper-1",
		"whisper.timeout": "30m",

		"ollama.base_url":    "http://localhost:11434",
		"ollama.model":       "deepseek-r1",
		"ollama.temperature": 0.1,
		"ollama.max_tokens":  512,
		"ollama.timeout":     "15m",

		"logging.level":  "info",
		"logging.format": "text",
	}

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return err
		}
	}
	return nil
}
