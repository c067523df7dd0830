// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	PolicySync     = "sync"
	PolicyAsync    = "async"
	PolicyPeriodic = "periodic"
)

// Config is the configuration for the recommender service.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Training TrainingConfig `mapstructure:"training"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the data store.
type DatabaseConfig struct {
	DataStore       string `mapstructure:"data_store" validate:"omitempty,data_store"`
	DataTablePrefix string `mapstructure:"data_table_prefix"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey               string        `mapstructure:"api_key"`
	DefaultN             int           `mapstructure:"default_n" validate:"gt=0"`
	DefaultSimilarUsersN int           `mapstructure:"default_similar_users_n" validate:"gt=0"`
	DefaultSimilarItemsN int           `mapstructure:"default_similar_items_n" validate:"gt=0"`
	RequestRate          float64       `mapstructure:"request_rate" validate:"gte=0"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	CacheSize            uint64        `mapstructure:"cache_size"`
}

// ModelConfig is the configuration for the latent factor model. Zero limits
// are unlimited.
type ModelConfig struct {
	NFactors   int `mapstructure:"n_factors" validate:"gt=0"`
	MaxUsers   int `mapstructure:"max_users" validate:"gte=0"`
	MaxItems   int `mapstructure:"max_items" validate:"gte=0"`
	MaxFactors int `mapstructure:"max_factors" validate:"gte=0"`
}

// TrainingConfig decides when the model is retrained.
type TrainingConfig struct {
	Policy          string        `mapstructure:"policy" validate:"oneof=sync async periodic"`
	FitPeriod       time.Duration `mapstructure:"fit_period" validate:"gte=0"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed" validate:"gte=0"`
}

type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8087,
			DefaultN:             5,
			DefaultSimilarUsersN: 3,
			DefaultSimilarItemsN: 4,
			CacheTTL:             time.Minute,
			CacheSize:            1024,
		},
		Model: ModelConfig{
			NFactors: 10,
		},
		Training: TrainingConfig{
			Policy:          PolicySync,
			RetryMaxElapsed: time.Minute,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	viper.SetDefault("database.data_table_prefix", defaultConfig.Database.DataTablePrefix)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	viper.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	viper.SetDefault("server.default_similar_users_n", defaultConfig.Server.DefaultSimilarUsersN)
	viper.SetDefault("server.default_similar_items_n", defaultConfig.Server.DefaultSimilarItemsN)
	viper.SetDefault("server.request_rate", defaultConfig.Server.RequestRate)
	viper.SetDefault("server.cache_ttl", defaultConfig.Server.CacheTTL)
	viper.SetDefault("server.cache_size", defaultConfig.Server.CacheSize)
	// [model]
	viper.SetDefault("model.n_factors", defaultConfig.Model.NFactors)
	viper.SetDefault("model.max_users", defaultConfig.Model.MaxUsers)
	viper.SetDefault("model.max_items", defaultConfig.Model.MaxItems)
	viper.SetDefault("model.max_factors", defaultConfig.Model.MaxFactors)
	// [training]
	viper.SetDefault("training.policy", defaultConfig.Training.Policy)
	viper.SetDefault("training.fit_period", defaultConfig.Training.FitPeriod)
	viper.SetDefault("training.retry_max_elapsed", defaultConfig.Training.RetryMaxElapsed)
	// [tracing]
	viper.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	viper.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	viper.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	viper.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	viper.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type environmentBinding struct {
	key string
	env string
}

var bindings = []environmentBinding{
	{"database.data_store", "SVDREC_DATA_STORE"},
	{"database.data_table_prefix", "SVDREC_DATA_TABLE_PREFIX"},
	{"server.host", "SVDREC_SERVER_HOST"},
	{"server.port", "SVDREC_SERVER_PORT"},
	{"server.api_key", "SVDREC_SERVER_API_KEY"},
	{"model.n_factors", "SVDREC_N_FACTORS"},
	{"training.policy", "SVDREC_TRAINING_POLICY"},
	{"training.fit_period", "SVDREC_FIT_PERIOD"},
	{"tracing.enable_tracing", "SVDREC_ENABLE_TRACING"},
	{"tracing.collector_endpoint", "SVDREC_COLLECTOR_ENDPOINT"},
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// LoadConfig loads configuration from a TOML file. Environment variables
// override the file and defaults fill the rest. An empty path loads defaults
// and environment variables only.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()

	// bind environment bindings
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			log.Logger().Fatal("failed to bind a Viper key to a ENV variable", zap.Error(err))
		}
	}

	if path != "" {
		// check if file exists
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Trace(err)
		}
		// load config file
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// unmarshal config file
	var conf Config
	if err := viper.Unmarshal(&conf, decodeHook()); err != nil {
		return nil, errors.Trace(err)
	}

	// validate config file
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

var dataStorePrefixes = []string{
	storage.MySQLPrefix,
	storage.PostgresPrefix,
	storage.PostgreSQLPrefix,
	storage.MongoPrefix,
	storage.MongoSrvPrefix,
	storage.SQLitePrefix,
	storage.RedisPrefix,
	storage.RedissPrefix,
}

func (config *Config) Validate() error {
	validate := validator.New()
	english := en.New()
	universalTranslator := ut.New(english, english)
	translator, _ := universalTranslator.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		return errors.Trace(err)
	}
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
	})
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		prefix := fl.Field().String()
		return lo.ContainsBy(dataStorePrefixes, func(p string) bool {
			return strings.HasPrefix(prefix, p)
		})
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterTranslation("data_store", translator, func(ut ut.Translator) error {
		return ut.Add("data_store", "{0} must start with "+strings.Join(dataStorePrefixes, ", "), true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("data_store", fe.Field())
		return t
	}); err != nil {
		return errors.Trace(err)
	}

	err := validate.Struct(config)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := lo.Map(validationErrors, func(e validator.FieldError, _ int) string {
				return e.Translate(translator)
			})
			return errors.NotValidf("config (%s)", strings.Join(messages, "; "))
		}
		return errors.Trace(err)
	}
	return nil
}

// NewTracerProvider creates a tracer provider. A no-op provider is returned
// when tracing is disabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var exporter tracesdk.SpanExporter
	var err error
	switch config.Exporter {
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	case "otlp":
		client := otlptracegrpc.NewClient(otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.TODO(), client)
	case "otlphttp":
		client := otlptracehttp.NewClient(otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.TODO(), client)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler tracesdk.Sampler
	switch config.Sampler {
	case "always":
		sampler = tracesdk.AlwaysSample()
	case "never":
		sampler = tracesdk.NeverSample()
	case "ratio":
		sampler = tracesdk.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithSampler(sampler),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("svdrec"),
		)),
	), nil
}
