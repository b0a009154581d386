package config

type Config struct {
	// Без брокеров события не публикуются
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_UNITS_TOPIC" env-default:"unit-events"`
}
