package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		Messenger: MessengerConfig{
			APIBase:    "https://graph.facebook.com",
			APIVersion: "v23.0",
		},
		Agent: AgentConfig{
			BaseURL:        "http://localhost:2024",
			AssistantID:    "search_agent",
			TimeoutSeconds: 90,
		},
		Store: StoreConfig{
			Backend: "memory",
			DBPath:  "~/.messenger-agent/relay.db",
		},
		Relay: RelayConfig{
			MaxConcurrentEvents: 8,
			ProcessingNotice:    "Khách iu vui lòng đợi chút ạ.",
			ApologyNotice:       "Có lỗi xảy ra, bạn vui lòng thử lại nhé!",
			TextOnlyNotice:      "Mình chưa hỗ trợ gửi hình hay audio, chỉ có thể chat bằng văn bản thôi.",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
