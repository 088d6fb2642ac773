package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	appEnv          = "app_env"
	appPort         = "app_port"
	appLogLevel     = "app_log_level"
	uploadDir       = "upload_dir"
	labelsPath      = "labels_path"
	metricsPath     = "metrics_path"
	foodPath        = "food_path"
	imageSize       = "image_size"
	maxUploadBytes  = "max_upload_bytes"
	onnxLibraryPath = "onnx_library_path"
	modelInputName  = "model_input_name"
	modelOutputName = "model_output_name"
	tfliteThreads   = "tflite_threads"
	models          = "models"
)

// Config holds everything the server needs at startup. It is read once and
// never mutated afterwards.
type Config struct {
	Env             string   `mapstructure:"app_env"`
	Port            string   `mapstructure:"app_port"`
	LogLevel        string   `mapstructure:"app_log_level"`
	UploadDir       string   `mapstructure:"upload_dir"`
	LabelsPath      string   `mapstructure:"labels_path"`
	MetricsPath     string   `mapstructure:"metrics_path"`
	FoodPath        string   `mapstructure:"food_path"`
	ImageSize       int      `mapstructure:"image_size"`
	MaxUploadBytes  int64    `mapstructure:"max_upload_bytes"`
	OnnxLibraryPath string   `mapstructure:"onnx_library_path"`
	ModelInputName  string   `mapstructure:"model_input_name"`
	ModelOutputName string   `mapstructure:"model_output_name"`
	TFLiteThreads   int      `mapstructure:"tflite_threads"`
	Models          []string `mapstructure:"models"`
}

// ModelPath is one selectable model parsed from a "Name=path" entry.
type ModelPath struct {
	Name string
	Path string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(appEnv, "local")
	v.SetDefault(appPort, "8080")
	v.SetDefault(appLogLevel, "info")
	v.SetDefault(uploadDir, "static/uploaded")
	v.SetDefault(labelsPath, "class_labels.json")
	v.SetDefault(metricsPath, "metrics.json")
	v.SetDefault(foodPath, "Food_data.json")
	v.SetDefault(imageSize, 256)
	v.SetDefault(maxUploadBytes, 32<<20)
	v.SetDefault(onnxLibraryPath, "")
	v.SetDefault(modelInputName, "input")
	v.SetDefault(modelOutputName, "output")
	v.SetDefault(tfliteThreads, 1)
	// Entries are Name=path. Viper lowercases map keys, and model names are
	// case-sensitive, so this is a list rather than a map.
	v.SetDefault(models, []string{
		"VGG16=VGG16_model.onnx",
		"ResNet50=ResNet_model.onnx",
		"CustomModel=custom_model.onnx",
	})
}

// Load reads configuration from the environment (APP_PORT, UPLOAD_DIR, ...)
// on top of the built-in defaults.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("image_size must be positive, got %d", cfg.ImageSize)
	}
	if _, err := cfg.ModelPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ModelPaths parses Models in declaration order.
func (c *Config) ModelPaths() ([]ModelPath, error) {
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	paths := make([]ModelPath, 0, len(c.Models))
	seen := make(map[string]bool, len(c.Models))
	for _, entry := range c.Models {
		name, path, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid model entry %q, want Name=path", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate model %q", name)
		}
		seen[name] = true
		paths = append(paths, ModelPath{Name: name, Path: path})
	}
	return paths, nil
}
