package config

import (
	"bytes"
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// STREAMBRIDGE_SUBSCRIBER_INVOKABLE_ENDPOINT.
const EnvPrefix = "STREAMBRIDGE"

// Load reads configuration from pathFile (optional) and the environment. The
// file type is inferred by viper from the extension.
func Load(pathFile string) (*Config, error) {
	v := newViper()
	if pathFile != "" {
		v.SetConfigFile(pathFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return fromViper(v)
}

// LoadFromBytes reads configuration from memory. configType is a viper format
// such as "yaml" or "json".
func LoadFromBytes(configType string, data []byte) (*Config, error) {
	if strings.TrimSpace(configType) == "" {
		return nil, errors.New("config type is required")
	}
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return fromViper(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binder", "")
	v.SetDefault("running-mode", "")
	v.SetDefault("transport-mode", string(TransportHTTP))
	v.SetDefault("publisher.destination", "")
	v.SetDefault("subscriber.destination", "")
	v.SetDefault("subscriber.group", "")
	v.SetDefault("subscriber.send-to-destination", "")
	v.SetDefault("subscriber.invokable-endpoint", "")
	v.SetDefault("subscriber.retries-on-error", DefaultRetriesOnError)
	v.SetDefault("subscriber.dlt-destination", DefaultDLTDestination)

	v.SetDefault("http.port", DefaultHTTPPort)
	v.SetDefault("http.path-pattern", DefaultPathPattern)
	v.SetDefault("http.mapped-request-headers", []string{"*"})
	v.SetDefault("http.cors.allowed-origins", []string{"*"})
	v.SetDefault("http.cors.allowed-headers", []string{"*"})
	v.SetDefault("http.cors.allow-credentials", false)
	v.SetDefault("http.request.timeout", DefaultRequestTimeout)
	v.SetDefault("http.request.content-type", "")
	v.SetDefault("http.binder.server-address", "")
	v.SetDefault("http.binder.publisher-url", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client-id", "streambridge")
	v.SetDefault("kafka.consumer-group", "")
	v.SetDefault("kafka.auto-create-topics", true)
	v.SetDefault("kafka.auto-add-partitions", false)
	v.SetDefault("kafka.replication-factor", DefaultReplication)
	v.SetDefault("kafka.min-partition-count", DefaultMinPartitions)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("nats.url", "")

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.account-id", "")
	v.SetDefault("aws.access-key-id", "")
	v.SetDefault("aws.secret-access-key", "")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("health.timeout", DefaultHealthTimeout)
	v.SetDefault("health.consider-down-when-any-partition-has-no-leader", false)

	v.SetDefault("provisioning.max-retries", DefaultProvisionTries)
	v.SetDefault("provisioning.initial-interval", DefaultProvisionPeriod)

	v.SetDefault("retry.initial-interval", 0)
	v.SetDefault("retry.max-interval", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("management.port", DefaultManagementPort)
	v.SetDefault("management.cors.allowed-origins", []string{})
}

func fromViper(v *viper.Viper) (*Config, error) {
	mode := RunningMode("")
	if raw := v.GetString("running-mode"); raw != "" {
		parsed, err := ParseRunningMode(raw)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}
	transport, err := ParseTransportMode(v.GetString("transport-mode"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Binder:        strings.ToLower(v.GetString("binder")),
		RunningMode:   mode,
		TransportMode: transport,
		Publisher: Publisher{
			Destination: v.GetString("publisher.destination"),
		},
		Subscriber: Subscriber{
			Destination:       v.GetString("subscriber.destination"),
			Group:             v.GetString("subscriber.group"),
			SendToDestination: v.GetString("subscriber.send-to-destination"),
			InvokableEndpoint: v.GetString("subscriber.invokable-endpoint"),
			RetriesOnError:    v.GetInt("subscriber.retries-on-error"),
			DLTDestination:    v.GetString("subscriber.dlt-destination"),
		},

		HTTPPort:                 v.GetInt("http.port"),
		HTTPPathPattern:          v.GetString("http.path-pattern"),
		HTTPMappedRequestHeaders: getList(v, "http.mapped-request-headers"),
		HTTPCORS: CORS{
			AllowedOrigins:   getList(v, "http.cors.allowed-origins"),
			AllowedHeaders:   getList(v, "http.cors.allowed-headers"),
			AllowCredentials: v.GetBool("http.cors.allow-credentials"),
		},
		RequestTimeout:     v.GetDuration("http.request.timeout"),
		RequestContentType: v.GetString("http.request.content-type"),
		HTTPServerAddress:  v.GetString("http.binder.server-address"),
		HTTPPublisherURL:   v.GetString("http.binder.publisher-url"),

		KafkaBrokers:           getList(v, "kafka.brokers"),
		KafkaClientID:          v.GetString("kafka.client-id"),
		KafkaConsumerGroup:     v.GetString("kafka.consumer-group"),
		KafkaAutoCreateTopics:  v.GetBool("kafka.auto-create-topics"),
		KafkaAutoAddPartitions: v.GetBool("kafka.auto-add-partitions"),
		KafkaReplicationFactor: int16(v.GetInt("kafka.replication-factor")),
		KafkaMinPartitionCount: v.GetInt32("kafka.min-partition-count"),

		RabbitMQURL: v.GetString("rabbitmq.url"),
		NATSURL:     v.GetString("nats.url"),

		AWSRegion:          v.GetString("aws.region"),
		AWSAccountID:       v.GetString("aws.account-id"),
		AWSAccessKeyID:     v.GetString("aws.access-key-id"),
		AWSSecretAccessKey: v.GetString("aws.secret-access-key"),
		AWSEndpoint:        v.GetString("aws.endpoint"),

		HealthTimeout: v.GetDuration("health.timeout"),
		HealthConsiderDownWhenAnyPartitionHasNoLeader: v.GetBool("health.consider-down-when-any-partition-has-no-leader"),

		ProvisioningMaxRetries:      v.GetInt("provisioning.max-retries"),
		ProvisioningInitialInterval: v.GetDuration("provisioning.initial-interval"),

		RetryInitialInterval: v.GetDuration("retry.initial-interval"),
		RetryMaxInterval:     v.GetDuration("retry.max-interval"),

		MetricsEnabled:               v.GetBool("metrics.enabled"),
		ManagementPort:               v.GetInt("management.port"),
		ManagementCORSAllowedOrigins: getList(v, "management.cors.allowed-origins"),
	}

	defaulted := cfg.WithDefaults()
	return &defaulted, nil
}

// getList reads a list that may come from a YAML sequence or from a
// comma-separated environment variable.
func getList(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
