package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	// Credit engine settings
	FreeTierCredits  int    `envconfig:"FREE_TIER_CREDITS" default:"25"`
	RolloverSchedule string `envconfig:"ROLLOVER_SCHEDULE" default:"0 2 * * *"`
	RolloverBatch    int    `envconfig:"ROLLOVER_BATCH" default:"500"`

	// Threshold alert delivery
	GCPProjectID string `envconfig:"GCP_PROJECT_ID"`
	AlertTopic   string `envconfig:"ALERT_TOPIC" default:"credit-alerts"`

	// Stripe webhook ingestion. The secret can come from the environment or,
	// in production, from Secret Manager by resource name.
	StripeWebhookSecret     string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookSecretName string `envconfig:"STRIPE_WEBHOOK_SECRET_NAME"`

	// Ledger export settings
	ExportBucket string `envconfig:"EXPORT_S3_BUCKET"`
	S3URL        string `envconfig:"EXPORT_S3_URL"`
	S3Region     string `envconfig:"EXPORT_S3_REGION" default:"us-east-1"`
	S3AccessKey  string `envconfig:"EXPORT_S3_ACCESS_KEY"`
	S3SecretKey  string `envconfig:"EXPORT_S3_SECRET_KEY"`

	// Generation provider settings
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
