package config

import "path/filepath"

// Defaults returns a runnable config with no provider credentials.
// Channels stay unconfigured until credentials arrive via Load.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "unibox.db"),
		},
		Sweep: SweepConfig{
			BatchSize:       50,
			IntervalSeconds: 60,
		},
		Providers: ProvidersConfig{
			TimeoutSeconds: 30,
			Email: EmailConfig{
				From: "noreply@yourdomain.com",
			},
		},
		Templates: TemplatesConfig{
			Dir: filepath.Join(DefaultConfigDir(), "templates"),
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Skeleton returns the config written by `unibox init`: defaults plus
// ${ENV_VAR} credential references that Load expands at read time.
func Skeleton() *Config {
	cfg := Defaults()
	cfg.Server.CronSecret = "${UNIBOX_CRON_SECRET}"
	cfg.Providers.Twilio = TwilioConfig{
		AccountSID:  "${TWILIO_ACCOUNT_SID}",
		AuthToken:   "${TWILIO_AUTH_TOKEN}",
		PhoneNumber: "${TWILIO_PHONE_NUMBER}",
	}
	cfg.Providers.Email.APIKey = "${RESEND_API_KEY}"
	cfg.Providers.Facebook = FacebookConfig{
		AppID:           "${FACEBOOK_APP_ID}",
		AppSecret:       "${FACEBOOK_APP_SECRET}",
		PageAccessToken: "${FACEBOOK_PAGE_ACCESS_TOKEN}",
		VerifyToken:     "${FACEBOOK_VERIFY_TOKEN}",
	}
	cfg.Providers.Twitter = TwitterConfig{BearerToken: "${TWITTER_BEARER_TOKEN}"}
	cfg.Providers.Telegram = TelegramConfig{Token: "${TELEGRAM_BOT_TOKEN}"}
	return cfg
}
