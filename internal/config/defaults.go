package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Timezone:  "America/Argentina/Buenos_Aires",
			Language:  "es",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		Gateway: GatewayConfig{
			Kind:    "evolution",
			BaseURL: "http://localhost:8081",
			Telegram: TelegramConfig{
				WebhookPath: "/webhook/telegram",
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]ProviderConfig{
				"openai": {
					Enabled:         true,
					APIBase:         "https://api.openai.com/v1",
					Model:           "gpt-4o-mini",
					RateLimitPerMin: 60,
				},
			},
			TimeoutSeconds: 20,
			Temperature:    0.2,
		},
		Transcription: TranscriptionConfig{
			Enabled:        true,
			APIBase:        "https://api.openai.com/v1",
			Model:          "whisper-1",
			TimeoutSeconds: 60,
			MaxBytes:       16 << 20,
		},
		Store: StoreConfig{
			DBPath: "~/.gtdbot/gtdbot.db",
		},
		Pipeline: PipelineConfig{
			FreshnessWindowSeconds: 300,
			HistoryWindow:          3,
			HistoryRetain:          20,
			SerializePerUser:       true,
			LinkCodeTTLMinutes:     15,
			TimeoutSeconds:         90,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@every 10m",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
