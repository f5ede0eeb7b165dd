package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:                   "info",
			MaxConcurrentMessages:      5,
			CollaboratorTimeoutSeconds: 30,
		},
		Store: StoreConfig{
			DBPath: "~/.arogyabot/arogyabot.db",
		},
		Session: SessionConfig{
			IdleMinutes: 30,
			Backend:     "memory",
		},
		Safety: SafetyConfig{
			RulesFile: "",
		},
		Provider: ProviderConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			VisionModel: "gpt-4o",
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		Uploads: UploadsConfig{
			Dir:              "~/.arogyabot/uploads",
			MaxFileSizeBytes: 10 * 1024 * 1024,
			AllowedExtensions: []string{
				"pdf", "doc", "docx", "jpg", "jpeg", "png", "webp",
			},
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
			SearchTopK:   5,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:           false,
				WebhookPath:       "/webhook/whatsapp",
				Host:              "0.0.0.0",
				Port:              8080,
				ValidateSignature: true,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
