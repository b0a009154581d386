package config

type Config struct {
	DBDsn string `yaml:"dsn" env:"DATABASE_URI" env-required:"true"`
}
