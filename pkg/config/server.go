package config

import "time"

// ServerConfig holds runtime configuration for the orchestrator service.
type ServerConfig struct {
	Environment       string
	Addr              string
	LogLevel          string
	DatabaseURL       string
	ImageNamespace    string
	WorkDir           string
	GitTimeout        time.Duration
	BuildTimeout      time.Duration
	DockerHost        string
	K8sNamespace      string
	K8sContainerPort  int
	K8sReplace        bool
	K8sRolloutTimeout time.Duration
	JWTSecret         string
	AccessTokenTTL    time.Duration
	WebhookSecret     string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LockTTL           time.Duration
	OTLPEndpoint      string
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("API_ADDR", ":8000"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		DatabaseURL:       GetString("DATABASE_URL", ""),
		ImageNamespace:    GetString("IMAGE_NAMESPACE", "autodeployhub"),
		WorkDir:           GetString("WORKDIR", "/tmp/autodeployhub"),
		GitTimeout:        time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 300)) * time.Second,
		BuildTimeout:      time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 1800)) * time.Second,
		DockerHost:        GetString("DOCKER_HOST", ""),
		K8sNamespace:      GetString("K8S_NAMESPACE", "default"),
		K8sContainerPort:  GetInt("K8S_CONTAINER_PORT", 8000),
		K8sReplace:        GetBool("K8S_REPLACE_EXISTING", true),
		K8sRolloutTimeout: time.Duration(GetInt("K8S_ROLLOUT_TIMEOUT_SECONDS", 0)) * time.Second,
		JWTSecret:         GetString("SECRET_KEY", "supersecuresecret"),
		AccessTokenTTL:    time.Duration(GetInt("ACCESS_TOKEN_EXPIRE_MINUTES", 10080)) * time.Minute,
		WebhookSecret:     GetString("GITHUB_WEBHOOK_SECRET", ""),
		RedisAddr:         GetString("REDIS_ADDR", ""),
		RedisPassword:     GetString("REDIS_PASSWORD", ""),
		RedisDB:           GetInt("REDIS_DB", 0),
		LockTTL:           time.Duration(GetInt("LOCK_TTL_SECONDS", 3600)) * time.Second,
		OTLPEndpoint:      GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// ClientConfig holds settings for CLI commands talking to a running server.
type ClientConfig struct {
	BaseURL string
	Token   string
}

// LoadClientConfig constructs a ClientConfig from environment variables.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: GetString("API_BASE_URL", "http://localhost:8000"),
		Token:   GetString("API_TOKEN", ""),
	}
}
