package config

type Config struct {
	ServerAddr string `yaml:"server_addr" env:"RUN_ADDRESS" env-default:":8080"`
	// Ключ подписи JWT для доступа к API. Пустой - API без авторизации.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}
